// Package selection persists, per token, the set of exam ids a user has
// marked for export.
//
// Every mutation is applied and persisted before it returns; there is no
// batching. Writes are serialized inside each Store, but two callers
// mutating the same token concurrently still race: the last write wins.
package selection

import (
	"fmt"

	"examcal/internal/model"
)

// Store is the durable token → selection mapping. All methods fail with a
// *model.StorageError when the backing store cannot be read or written.
type Store interface {
	// LoadOrCreate returns the selection for token, creating and persisting
	// an empty one on first use. Repeated calls never duplicate entries.
	LoadOrCreate(token model.Token) (*model.UserSelection, error)
	// Get returns the selection for token without creating it. Unknown
	// tokens yield model.ErrNotFound.
	Get(token model.Token) (*model.UserSelection, error)
	// Add inserts examID. Adding a present id changes nothing but is still
	// persisted.
	Add(token model.Token, examID int) error
	// Remove deletes examID; removing an absent id is a no-op.
	Remove(token model.Token, examID int) error
	// Replace sets the selection to exactly ids.
	Replace(token model.Token, ids []int) error
	// Count returns the number of selected ids. Unknown tokens count as 0
	// and are not created.
	Count(token model.Token) (int, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Open opens the store for driver at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverFile:
		s, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, model.NewStorageError("open", fmt.Errorf("unknown driver %q", driver))
	}
}

func notFound(token model.Token) error {
	return fmt.Errorf("token %s: %w", token, model.ErrNotFound)
}
