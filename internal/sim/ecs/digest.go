package ecs

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
)

// StateDigest hashes the registered world columns and every resource in a
// canonical order. Two states with equal digests are considered identical for
// replay verification.
func StateDigest(w *World, res *Resources) (string, error) {
	h := sha256.New()
	var tmp [8]byte

	if err := w.digest(h, &tmp); err != nil {
		return "", err
	}
	if res != nil {
		if err := res.digest(h, &tmp); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (w *World) Digest() (string, error) {
	return StateDigest(w, nil)
}

func (w *World) digest(h hash.Hash, tmp *[8]byte) error {
	digestWriteU64(h, tmp, uint64(w.nextEntity))
	ents := w.Entities()
	digestWriteU64(h, tmp, uint64(len(ents)))
	for _, e := range ents {
		digestWriteU64(h, tmp, uint64(e))
	}

	for _, ct := range w.reg.sorted {
		col := w.columns[ct.typ]
		h.Write([]byte(ct.name))
		digestWriteU64(h, tmp, uint64(len(col)))
		for _, e := range sortedKeys(col) {
			b, err := ct.encode(col[e])
			if err != nil {
				return fmt.Errorf("digest %s of entity %d: %w", ct.name, e, err)
			}
			digestWriteU64(h, tmp, uint64(e))
			digestWriteBytes(h, tmp, b)
		}
	}
	return nil
}

func (r *Resources) digest(h hash.Hash, tmp *[8]byte) error {
	types := r.sortedTypes()
	digestWriteU64(h, tmp, uint64(len(types)))
	for _, t := range types {
		b, err := json.Marshal(r.m[t])
		if err != nil {
			return fmt.Errorf("digest resource %s: %w", t, err)
		}
		h.Write([]byte(t.String()))
		digestWriteBytes(h, tmp, b)
	}
	return nil
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteBytes(h hash.Hash, tmp *[8]byte, b []byte) {
	digestWriteU64(h, tmp, uint64(len(b)))
	h.Write(b)
}
