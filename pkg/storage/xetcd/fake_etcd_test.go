package xetcd

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// watchCall 记录一次 Watch 调用，测试通过 ch 推送响应。
type watchCall struct {
	key string
	rev int64
	ch  chan clientv3.WatchResponse
}

// fakeEtcd 内存版 etcdClient。
type fakeEtcd struct {
	mu      sync.Mutex
	kvs     map[string]*mvccpb.KeyValue
	rev     int64
	leases  map[clientv3.LeaseID]int64
	nextID  clientv3.LeaseID
	revoked []clientv3.LeaseID
	closed  bool
	getErrs []error
	putErr  error
	keepErr error
	keepCh  chan *clientv3.LeaseKeepAliveResponse
	watches chan watchCall
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{
		kvs:     make(map[string]*mvccpb.KeyValue),
		leases:  make(map[clientv3.LeaseID]int64),
		nextID:  100,
		watches: make(chan watchCall, 16),
	}
}

func (f *fakeEtcd) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	op := clientv3.OpGet(key, opts...)
	resp := &clientv3.GetResponse{Header: &etcdserverpb.ResponseHeader{Revision: f.rev}}
	end := op.RangeBytes()
	for k, kv := range f.kvs {
		kb := []byte(k)
		switch {
		case len(end) == 0 && k == key:
		case len(end) > 0 && bytes.Compare(kb, []byte(key)) >= 0 && bytes.Compare(kb, end) < 0:
		default:
			continue
		}
		resp.Kvs = append(resp.Kvs, kv)
	}
	sort.Slice(resp.Kvs, func(i, j int) bool {
		return bytes.Compare(resp.Kvs[i].Key, resp.Kvs[j].Key) < 0
	})
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.rev++
	f.kvs[key] = &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val), ModRevision: f.rev}
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kvs[key]; !ok {
		return &clientv3.DeleteResponse{}, nil
	}
	f.rev++
	delete(f.kvs, key)
	return &clientv3.DeleteResponse{Deleted: 1}, nil
}

func (f *fakeEtcd) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.leases[f.nextID] = ttl
	return &clientv3.LeaseGrantResponse{ID: f.nextID, TTL: ttl}, nil
}

func (f *fakeEtcd) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	delete(f.leases, id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (f *fakeEtcd) KeepAlive(context.Context, clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	if f.keepErr != nil {
		return nil, f.keepErr
	}
	return f.keepCh, nil
}

func (f *fakeEtcd) Watch(_ context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	op := clientv3.OpGet(key, opts...)
	ch := make(chan clientv3.WatchResponse, 8)
	f.watches <- watchCall{key: key, rev: op.Rev(), ch: ch}
	return ch
}

func (f *fakeEtcd) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEtcd) leaseTTL(id clientv3.LeaseID) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.leases[id]
	return ttl, ok
}

func putEvent(key, value string, rev int64) *clientv3.Event {
	return &clientv3.Event{
		Type: mvccpb.PUT,
		Kv:   &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value), ModRevision: rev},
	}
}

func deleteEvent(key string, rev int64) *clientv3.Event {
	return &clientv3.Event{
		Type: mvccpb.DELETE,
		Kv:   &mvccpb.KeyValue{Key: []byte(key), ModRevision: rev},
	}
}

func newTestClient(f *fakeEtcd) *Client {
	o := defaultOptions()
	o.logger = discardLogger()
	return newClient(f, o)
}
