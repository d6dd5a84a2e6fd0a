// Package flow 按来源地址统计收到的数据报。
package flow

import (
	"net"
	"sort"
	"sync"
	"time"
)

type Key string

// State 是一个来源的累计统计
type State struct {
	Source    string
	FirstSeen time.Time
	LastSeen  time.Time
	Packets   uint64
	Bytes     uint64
}

// 来源跟踪器
type Tracker struct {
	flows map[Key]*State
	mutex sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		flows: make(map[Key]*State),
	}
}

func keyOf(src net.Addr) Key {
	if src == nil {
		return "unknown"
	}
	return Key(src.String())
}

// Observe 记录来自 src 的一个 n 字节数据报
func (t *Tracker) Observe(src net.Addr, n int, at time.Time) {
	key := keyOf(src)

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if state, exists := t.flows[key]; exists {
		state.Packets++
		state.Bytes += uint64(n)
		state.LastSeen = at
		return
	}
	t.flows[key] = &State{
		Source:    string(key),
		FirstSeen: at,
		LastSeen:  at,
		Packets:   1,
		Bytes:     uint64(n),
	}
}

func (t *Tracker) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.flows)
}

// Top 返回按包数降序的前 n 个来源，n <= 0 返回全部
func (t *Tracker) Top(n int) []State {
	t.mutex.RLock()
	out := make([]State, 0, len(t.flows))
	for _, s := range t.flows {
		out = append(out, *s)
	}
	t.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Source < out[j].Source
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
