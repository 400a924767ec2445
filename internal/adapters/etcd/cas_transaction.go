package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

type CasResult struct {
	Applied bool
}

// compareAndSwap writes newValue only if key still carries the revision and
// bytes the caller read.
func compareAndSwap(
	ctx context.Context,
	kv clientv3.KV,
	key string,
	expectedModRevision int64,
	expectedValue string,
	newValue string,
	thenOps ...clientv3.Op,
) (CasResult, error) {
	ops := make([]clientv3.Op, 0, len(thenOps)+1)
	ops = append(ops, clientv3.OpPut(key, newValue))
	ops = append(ops, thenOps...)

	resp, err := kv.Txn(ctx).
		If(
			clientv3.Compare(clientv3.ModRevision(key), "=", expectedModRevision),
			clientv3.Compare(clientv3.Value(key), "=", expectedValue),
		).
		Then(ops...).
		Commit()
	if err != nil {
		return CasResult{}, err
	}
	return CasResult{Applied: resp.Succeeded}, nil
}

// createIfAbsent puts value at key only when the key has never been created
// or was deleted since.
func createIfAbsent(ctx context.Context, kv clientv3.KV, key, value string) (CasResult, error) {
	resp, err := kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		return CasResult{}, err
	}
	return CasResult{Applied: resp.Succeeded}, nil
}

func deleteIfPresent(ctx context.Context, kv clientv3.KV, key string) (CasResult, error) {
	resp, err := kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return CasResult{}, err
	}
	return CasResult{Applied: resp.Succeeded}, nil
}
