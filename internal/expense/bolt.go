package expense

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "expenses"

// BoltStore implements Store using BoltDB. Each user gets a nested bucket
// inside the expenses bucket, keyed by expense ID.
type BoltStore struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltStore opens the database with the default ID generator and clock
func NewBoltStore(path string) (*BoltStore, error) {
	return NewBoltStoreWithDeps(path, &uuidGenerator{}, &defaultTimeSource{})
}

// NewBoltStoreWithDeps opens the database with custom dependencies for testing
func NewBoltStoreWithDeps(path string, idGen IDGenerator, timeSrc TimeSource) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, idGenerator: idGen, timeSource: timeSrc}, nil
}

// Insert saves a new expense
func (b *BoltStore) Insert(ctx context.Context, expense *Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := b.idGenerator.Generate()
	createdAt := b.timeSource.Now()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket([]byte(bucketName)).CreateBucketIfNotExists([]byte(expense.UserID))
		if err != nil {
			return fmt.Errorf("creating user bucket: %w", err)
		}

		record := *expense
		record.ID = id
		record.CreatedAt = createdAt
		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return userBucket.Put([]byte(id), data)
	})
	if err != nil {
		return err
	}

	expense.ID = id
	expense.CreatedAt = createdAt
	return nil
}

// SelectByUser returns all expenses owned by a user, oldest first
func (b *BoltStore) SelectByUser(ctx context.Context, userID string) ([]*Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket([]byte(bucketName)).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &expense)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.Before(expenses[j].CreatedAt)
	})
	return expenses, nil
}

// UpdateByID replaces amount, category and business name of an existing expense
func (b *BoltStore) UpdateByID(ctx context.Context, expense *Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket([]byte(bucketName)).Bucket([]byte(expense.UserID))
		if userBucket == nil {
			return ErrNotFound
		}
		data := userBucket.Get([]byte(expense.ID))
		if data == nil {
			return ErrNotFound
		}

		var stored Expense
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		stored.Amount = expense.Amount
		stored.Category = expense.Category
		stored.BusinessName = expense.BusinessName

		updated, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := userBucket.Put([]byte(stored.ID), updated); err != nil {
			return err
		}
		*expense = stored
		return nil
	})
}

// DeleteByID removes an expense owned by a user
func (b *BoltStore) DeleteByID(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket([]byte(bucketName)).Bucket([]byte(userID))
		if userBucket == nil || userBucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return userBucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
