// Package cache stores cache generations: named, versioned buckets of
// request URL → response record pairs. A Storage owns the set of generations
// (open/create, list, delete) and hands out Cache values scoped to one
// generation. Three drivers share the same contract: bbolt (one bucket per
// generation), LevelDB (one key prefix per generation) and a plain directory
// tree (one directory per generation, temp file + rename writes).
// Every driver guarantees atomic put/match/delete for a single key; racing
// writers for the same key are last-write-wins.
package cache
