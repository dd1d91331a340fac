// Package infra holds the concrete implementations of the domain contracts.
//
//   - Store: sharded in-memory fixed-window quota table with an idle-record janitor
//   - RedisStore: the same transition run atomically by a Lua script, shared across instances
//   - MemoryStatsStore / RedisStatsStore: decision counters
//   - ChanPool: buffered-channel semaphore for in-flight limits
package infra
