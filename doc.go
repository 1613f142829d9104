/*
Package zstore implements the read path of a log-structured key-value
store: a reader for immutable sorted string tables with pluggable key
comparison and bloom filters, LRU block and table caches, and a merge
cursor which combines several tables into a single ordered stream. The
companion package zset holds the in-memory sorted-set index used by the
store.

Data Structure Documentation

Table

A table contains a series of data blocks, followed by meta blocks
(currently at most one filter block), a metaindex block, an index block
and a fixed-length footer.

    Table layout:
    +---------+-------+---------+--------------+------------------+-------------+--------+
    | block 1 |  ...  | block n | filter block |  metaindex block | index block | footer |
    +---------+-------+---------+--------------+------------------+-------------+--------+

    Footer (48 bytes):
    +----------------------------+------------------------+---------+------------------+
    | metaindex handle (varints) | index handle (varints) | padding | magic (8 bytes)  |
    +----------------------------+------------------------+---------+------------------+

The index block holds one entry per data block, mapping the last key of
the block to its handle. The metaindex block maps "filter.<policy>" to
the handle of the filter block.

Block

A block is a series of entries followed by a restart-point directory
and, on disk, a 5-byte trailer which is stripped on read.

    Block layout:
    +---------+-------+---------+---------------------+--------------------------+----------------------+---------------+
    | entry 1 |  ...  | entry n | restarts (4B each)  | restart count (4 bytes)  | compression (1 byte) | CRC (4 bytes) |
    +---------+-------+---------+---------------------+--------------------------+----------------------+---------------+

Entry

Keys are prefix-compressed against their predecessor. Every entry at a
restart point stores its key in full (shared = 0).

    +------------------+----------------------+---------------------+-------------------------+------------------+
    | shared (varint)  |  non-shared (varint) | value len (varint)  | key delta (non-shared B) | value (varlen B) |
    +------------------+----------------------+---------------------+-------------------------+------------------+
*/
package zstore
