package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	imagesBucket = []byte("images")
	ownersBucket = []byte("owners")
)

// BoltImageStore keeps records in a single bbolt file. Each owner has a
// nested index bucket keyed by upload time then id, so a reverse cursor walk
// yields newest first.
type BoltImageStore struct {
	db *bolt.DB
}

func NewBoltImageStore(path string) (*BoltImageStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(imagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(ownersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure bolt buckets: %w", err)
	}

	return &BoltImageStore{db: db}, nil
}

func (s *BoltImageStore) Close() error {
	return s.db.Close()
}

func (s *BoltImageStore) Create(_ context.Context, rec domain.ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal image record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(imagesBucket)
		if images.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("image record %s already exists", rec.ID)
		}
		if err := images.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("put image record: %w", err)
		}

		owner, err := tx.Bucket(ownersBucket).CreateBucketIfNotExists([]byte(rec.OwnerID))
		if err != nil {
			return fmt.Errorf("create owner index: %w", err)
		}
		return owner.Put(ownerIndexKey(rec), []byte(rec.ID))
	})
}

func (s *BoltImageStore) Get(_ context.Context, id string) (domain.ImageRecord, bool, error) {
	var (
		rec   domain.ImageRecord
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(imagesBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return domain.ImageRecord{}, false, fmt.Errorf("read image record: %w", err)
	}
	return rec, found, nil
}

func (s *BoltImageStore) Update(_ context.Context, rec domain.ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal image record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(imagesBucket)
		prev, err := readRecord(images, rec.ID)
		if err != nil {
			return err
		}
		if err := images.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("put image record: %w", err)
		}
		return reindex(tx, prev, rec)
	})
}

func (s *BoltImageStore) UpdateStatus(_ context.Context, id string, status domain.Status, errMsg string) (domain.ImageRecord, error) {
	var rec domain.ImageRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(imagesBucket)
		var err error
		if rec, err = readRecord(images, id); err != nil {
			return err
		}
		rec.Status = status
		rec.Error = errMsg
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal image record: %w", err)
		}
		return images.Put([]byte(id), data)
	})
	if err != nil {
		return domain.ImageRecord{}, err
	}
	return rec, nil
}

func (s *BoltImageStore) ListByOwner(_ context.Context, ownerID string) ([]domain.ImageRecord, error) {
	out := make([]domain.ImageRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		owner := tx.Bucket(ownersBucket).Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}
		images := tx.Bucket(imagesBucket)

		c := owner.Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			data := images.Get(id)
			if data == nil {
				continue
			}
			var rec domain.ImageRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal image record %s: %w", id, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list owner images: %w", err)
	}
	return out, nil
}

func (s *BoltImageStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(imagesBucket)
		rec, err := readRecord(images, id)
		if err != nil {
			return err
		}
		if owner := tx.Bucket(ownersBucket).Bucket([]byte(rec.OwnerID)); owner != nil {
			if err := owner.Delete(ownerIndexKey(rec)); err != nil {
				return fmt.Errorf("delete owner index: %w", err)
			}
		}
		return images.Delete([]byte(id))
	})
}

func (s *BoltImageStore) DeleteByOwner(_ context.Context, ownerID string) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		owners := tx.Bucket(ownersBucket)
		owner := owners.Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}

		images := tx.Bucket(imagesBucket)
		err := owner.ForEach(func(_, id []byte) error {
			if images.Get(id) == nil {
				return nil
			}
			n++
			return images.Delete(id)
		})
		if err != nil {
			return err
		}
		return owners.DeleteBucket([]byte(ownerID))
	})
	if err != nil {
		return 0, fmt.Errorf("delete owner images: %w", err)
	}
	return n, nil
}

func readRecord(images *bolt.Bucket, id string) (domain.ImageRecord, error) {
	data := images.Get([]byte(id))
	if data == nil {
		return domain.ImageRecord{}, ErrNotFound
	}
	var rec domain.ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("unmarshal image record %s: %w", id, err)
	}
	return rec, nil
}

// reindex moves the owner index entry when an update changes the owner or
// upload time.
func reindex(tx *bolt.Tx, prev, next domain.ImageRecord) error {
	if prev.OwnerID == next.OwnerID && prev.UploadedAt.Equal(next.UploadedAt) {
		return nil
	}
	owners := tx.Bucket(ownersBucket)
	if owner := owners.Bucket([]byte(prev.OwnerID)); owner != nil {
		if err := owner.Delete(ownerIndexKey(prev)); err != nil {
			return fmt.Errorf("delete owner index: %w", err)
		}
	}
	owner, err := owners.CreateBucketIfNotExists([]byte(next.OwnerID))
	if err != nil {
		return fmt.Errorf("create owner index: %w", err)
	}
	return owner.Put(ownerIndexKey(next), []byte(next.ID))
}

func ownerIndexKey(rec domain.ImageRecord) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.UploadedAt.UnixNano()))
	return append(key, rec.ID...)
}
