package etcd

import (
	"bytes"
	"context"
	"sort"
	"sync"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV is a single-member keyspace with etcd revision semantics for Get and
// Txn. Every other KV method is left to the nil embedded interface.
type fakeKV struct {
	clientv3.KV

	mu       sync.Mutex
	revision int64
	data     map[string]*mvccpb.KeyValue
	failWith error
	txns     int
	// beforeCommit runs under the lock ahead of each Txn evaluation, so a test
	// can interleave a competing write.
	beforeCommit func(f *fakeKV)
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]*mvccpb.KeyValue{}}
}

func (f *fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	op := clientv3.OpGet(key, opts...)
	kvs := f.rangeLocked(op.KeyBytes(), op.RangeBytes())
	return &clientv3.GetResponse{Kvs: kvs, Count: int64(len(kvs))}, nil
}

func (f *fakeKV) Txn(_ context.Context) clientv3.Txn {
	return &fakeTxn{kv: f}
}

func (f *fakeKV) rangeLocked(key, end []byte) []*mvccpb.KeyValue {
	var kvs []*mvccpb.KeyValue
	if len(end) == 0 {
		if kv, ok := f.data[string(key)]; ok {
			kvs = append(kvs, kv)
		}
		return kvs
	}
	for k, kv := range f.data {
		if bytes.Compare([]byte(k), key) >= 0 && (bytes.Equal(end, []byte{0}) || bytes.Compare([]byte(k), end) < 0) {
			kvs = append(kvs, kv)
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })
	return kvs
}

// putLocked replaces the record rather than mutating it, so KeyValues handed
// out by Get stay stable.
func (f *fakeKV) putLocked(key string, value []byte) {
	f.revision++
	next := &mvccpb.KeyValue{
		Key:            []byte(key),
		Value:          append([]byte(nil), value...),
		CreateRevision: f.revision,
		ModRevision:    f.revision,
		Version:        1,
	}
	if prev, ok := f.data[key]; ok {
		next.CreateRevision = prev.CreateRevision
		next.Version = prev.Version + 1
	}
	f.data[key] = next
}

func (f *fakeKV) deleteLocked(key string) {
	if _, ok := f.data[key]; ok {
		f.revision++
		delete(f.data, key)
	}
}

func (f *fakeKV) compareLocked(c clientv3.Cmp) bool {
	kv, ok := f.data[string(c.Key)]
	if !ok {
		if c.Target == pb.Compare_VALUE {
			return false
		}
		kv = &mvccpb.KeyValue{}
	}

	var result int
	switch target := c.TargetUnion.(type) {
	case *pb.Compare_Version:
		result = compareInt(kv.Version, target.Version)
	case *pb.Compare_CreateRevision:
		result = compareInt(kv.CreateRevision, target.CreateRevision)
	case *pb.Compare_ModRevision:
		result = compareInt(kv.ModRevision, target.ModRevision)
	case *pb.Compare_Value:
		result = bytes.Compare(kv.Value, target.Value)
	default:
		return false
	}

	switch c.Result {
	case pb.Compare_EQUAL:
		return result == 0
	case pb.Compare_NOT_EQUAL:
		return result != 0
	case pb.Compare_GREATER:
		return result > 0
	case pb.Compare_LESS:
		return result < 0
	}
	return false
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type fakeTxn struct {
	kv    *fakeKV
	cmps  []clientv3.Cmp
	thens []clientv3.Op
	elses []clientv3.Op
}

func (t *fakeTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	t.cmps = append(t.cmps, cs...)
	return t
}

func (t *fakeTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.thens = append(t.thens, ops...)
	return t
}

func (t *fakeTxn) Else(ops ...clientv3.Op) clientv3.Txn {
	t.elses = append(t.elses, ops...)
	return t
}

func (t *fakeTxn) Commit() (*clientv3.TxnResponse, error) {
	f := t.kv
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.txns++
	if f.beforeCommit != nil {
		f.beforeCommit(f)
	}

	succeeded := true
	for _, c := range t.cmps {
		if !f.compareLocked(c) {
			succeeded = false
			break
		}
	}
	ops := t.elses
	if succeeded {
		ops = t.thens
	}
	for _, op := range ops {
		switch {
		case op.IsPut():
			f.putLocked(string(op.KeyBytes()), op.ValueBytes())
		case op.IsDelete():
			f.deleteLocked(string(op.KeyBytes()))
		}
	}
	return &clientv3.TxnResponse{Succeeded: succeeded}, nil
}
