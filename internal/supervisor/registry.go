/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package supervisor

import (
	"sort"
	"sync"
	"time"

	"github.com/leonyoah/procwarden/internal/proctree"
)

// BatchRecord is the set of root processes and their trees owned by one batch.
// Every key of Trees is a member of Roots.
// BatchRecord 是某个批次拥有的根进程及其进程树集合。Trees 的每个键都属于 Roots。
type BatchRecord struct {
	ID         string                  `json:"id"`
	Roots      proctree.PIDSet         `json:"-"`
	Trees      map[int]proctree.PIDSet `json:"-"`
	StartTimes map[int]uint64          `json:"-"`
	CreatedAt  time.Time               `json:"created_at"`
	Cleaned    bool                    `json:"cleaned"`

	cleaning bool
}

// BatchInfo is the read-only view of a batch handed to callers.
// BatchInfo 是提供给调用方的只读批次视图。
type BatchInfo struct {
	ID        string        `json:"id"`
	Family    string        `json:"family"`
	Roots     []int         `json:"roots"`
	Trees     map[int][]int `json:"trees"`
	CreatedAt time.Time     `json:"created_at"`
	Cleaning  bool          `json:"cleaning"`
}

func newBatchRecord(id string, now time.Time) *BatchRecord {
	return &BatchRecord{
		ID:         id,
		Roots:      proctree.PIDSet{},
		Trees:      make(map[int]proctree.PIDSet),
		StartTimes: make(map[int]uint64),
		CreatedAt:  now,
	}
}

func (b *BatchRecord) clone() BatchRecord {
	out := BatchRecord{
		ID:         b.ID,
		Roots:      b.Roots.Clone(),
		Trees:      make(map[int]proctree.PIDSet, len(b.Trees)),
		StartTimes: make(map[int]uint64, len(b.StartTimes)),
		CreatedAt:  b.CreatedAt,
		Cleaned:    b.Cleaned,
		cleaning:   b.cleaning,
	}
	for root, tree := range b.Trees {
		out.Trees[root] = tree.Clone()
	}
	for pid, st := range b.StartTimes {
		out.StartTimes[pid] = st
	}
	return out
}

// Registry maps batch ids to records. Its mutex guards only in-memory map
// mutation and is never held across OS calls.
// Registry 将批次 ID 映射到批次记录。互斥锁仅保护内存映射，不会在系统调用期间持有。
type Registry struct {
	mu      sync.Mutex
	batches map[string]*BatchRecord
}

// NewRegistry creates an empty registry.
// NewRegistry 创建空的批次注册表。
func NewRegistry() *Registry {
	return &Registry{batches: make(map[string]*BatchRecord)}
}

// Register adds an empty record. It returns false when the id already exists.
// Register 添加空的批次记录，ID 已存在时返回 false。
func (r *Registry) Register(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[id]; exists {
		return false
	}
	r.batches[id] = newBatchRecord(id, now)
	return true
}

// Attach merges captured trees into a live record. It returns false when the
// batch is unknown or already being cleaned.
// Attach 将捕获到的进程树合并到批次记录中；批次不存在或正在清理时返回 false。
func (r *Registry) Attach(id string, trees map[int]proctree.PIDSet, stamps map[int]uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.batches[id]
	if !ok || rec.cleaning || rec.Cleaned {
		return false
	}
	for root, tree := range trees {
		rec.Roots.Add(root)
		existing, ok := rec.Trees[root]
		if !ok {
			existing = proctree.PIDSet{}
			rec.Trees[root] = existing
		}
		existing.Merge(tree)
	}
	for pid, st := range stamps {
		rec.StartTimes[pid] = st
	}
	return true
}

// claim marks a record as being cleaned and returns a copy of it. claimed is
// false when the record is gone or another caller already claimed it.
func (r *Registry) claim(id string) (rec BatchRecord, claimed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.cleaning || b.Cleaned {
		return BatchRecord{}, false
	}
	b.cleaning = true
	return b.clone(), true
}

// finish flips cleaned to true and drops the record.
func (r *Registry) finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batches[id]; ok {
		b.Cleaned = true
		delete(r.batches, id)
	}
}

// Get returns a copy of a record.
// Get 返回批次记录的副本。
func (r *Registry) Get(id string) (BatchRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return BatchRecord{}, false
	}
	return b.clone(), true
}

// Has reports whether a batch is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.batches[id]
	return ok
}

// IDs returns the registered batch ids in sorted order.
// IDs 返回已注册批次 ID（有序）。
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.batches))
	for id := range r.batches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered batches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
