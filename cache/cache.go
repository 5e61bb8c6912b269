package cache

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rigado/bthost/gap"
)

// PeerStore keeps peer records, keyed by address, in a JSON file.
type PeerStore interface {
	Store(r gap.PeerRecord, replace bool) error
	Load(addr string) (gap.PeerRecord, error)
	LoadAll() ([]gap.PeerRecord, error)
	Clear() error
}

type peerStore struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) PeerStore {
	ps := peerStore{
		filename: filename,
	}

	return &ps
}

func (ps *peerStore) Store(r gap.PeerRecord, replace bool) error {
	ps.lock.Lock()
	defer ps.lock.Unlock()

	cache, err := ps.loadExisting()
	if err != nil {
		return err
	}

	_, ok := cache[r.Address]
	if ok && !replace {
		return fmt.Errorf("cache already contains peer %s", r.Address)
	}

	cache[r.Address] = r

	err = ps.storeCache(cache)
	if err != nil {
		return err
	}

	return nil
}

func (ps *peerStore) Load(addr string) (gap.PeerRecord, error) {
	ps.lock.RLock()
	defer ps.lock.RUnlock()

	cache, err := ps.loadExisting()
	if err != nil {
		return gap.PeerRecord{}, err
	}

	r, ok := cache[addr]
	if !ok {
		return gap.PeerRecord{}, fmt.Errorf("peer %s not found in cache", addr)
	}

	return r, nil
}

func (ps *peerStore) LoadAll() ([]gap.PeerRecord, error) {
	ps.lock.RLock()
	defer ps.lock.RUnlock()

	cache, err := ps.loadExisting()
	if err != nil {
		return nil, err
	}

	rr := make([]gap.PeerRecord, 0, len(cache))
	for _, r := range cache {
		rr = append(rr, r)
	}
	return rr, nil
}

func (ps *peerStore) Clear() error {
	ps.lock.Lock()
	defer ps.lock.Unlock()

	err := os.Remove(ps.filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (ps *peerStore) loadExisting() (map[string]gap.PeerRecord, error) {
	_, err := os.Stat(ps.filename)
	if os.IsNotExist(err) {
		return map[string]gap.PeerRecord{}, nil
	}

	in, err := ioutil.ReadFile(ps.filename)
	if err != nil {
		return nil, err
	}

	var cache map[string]gap.PeerRecord
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = map[string]gap.PeerRecord{}
	}

	return cache, nil
}

func (ps *peerStore) storeCache(cache map[string]gap.PeerRecord) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(ps.filename, out, 0644)
}

// Save stores every peer of c that is worth remembering: named, bonded or
// interrogated ones.
func Save(s PeerStore, c *gap.PeerCache) error {
	var err error
	c.ForEach(func(p *gap.Peer) bool {
		r := p.Record()
		if r.Name == nil && r.Bond == nil && r.Version == nil {
			return true
		}
		err = s.Store(r, true)
		return err == nil
	})
	return err
}

// Restore loads every stored peer into c. Peers c already knows are
// skipped.
func Restore(s PeerStore, c *gap.PeerCache) (int, error) {
	rr, err := s.LoadAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rr {
		if _, err := c.Restore(r); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
