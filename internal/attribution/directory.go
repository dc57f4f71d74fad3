package attribution

import (
	"context"
	"fmt"

	"voicemetrics/internal/storage"
)

// DefaultWorkspaceID is the fallback tenant. Numbers seen for the first time
// and records that cannot be classified land here so every record is always
// attributed to exactly one workspace.
const DefaultWorkspaceID int64 = 1

// Directory resolves phone numbers to workspaces and registers numbers seen
// for the first time.
type Directory interface {
	Lookup(number string) (workspaceID int64, ok bool)
	Register(ctx context.Context, number string, workspaceID int64, isPrimary bool) error
}

// StoreDirectory is a Directory backed by a one-time snapshot of the
// workspace_phones table. The snapshot is loaded once per job run; numbers
// registered during the run are added to the local map so later records in
// the same run resolve consistently.
type StoreDirectory struct {
	store   storage.Store
	numbers map[string]int64
}

// LoadDirectory seeds a StoreDirectory from the store. A failed seed aborts
// the job: attributing against an empty directory would misfile every record
// under the default workspace.
func LoadDirectory(ctx context.Context, store storage.Store) (*StoreDirectory, error) {
	phones, err := store.ListWorkspacePhones(ctx)
	if err != nil {
		return nil, fmt.Errorf("attribution: seed directory: %w", err)
	}
	numbers := make(map[string]int64, len(phones))
	for _, p := range phones {
		numbers[p.PhoneNumber] = p.WorkspaceID
	}
	return &StoreDirectory{store: store, numbers: numbers}, nil
}

func (d *StoreDirectory) Lookup(number string) (int64, bool) {
	ws, ok := d.numbers[number]
	return ws, ok
}

// Register persists the number and mirrors it into the local snapshot. The
// caller decides how to handle a persistence failure; the local map is only
// updated on success so retries stay consistent with the store.
func (d *StoreDirectory) Register(ctx context.Context, number string, workspaceID int64, isPrimary bool) error {
	if err := d.store.InsertWorkspacePhone(ctx, storage.WorkspacePhone{
		WorkspaceID: workspaceID,
		PhoneNumber: number,
		IsPrimary:   isPrimary,
	}); err != nil {
		return err
	}
	d.numbers[number] = workspaceID
	return nil
}

// MapDirectory is an in-memory Directory for tests.
type MapDirectory struct {
	Numbers     map[string]int64
	RegisterErr error

	Registered []storage.WorkspacePhone
}

func NewMapDirectory(numbers map[string]int64) *MapDirectory {
	if numbers == nil {
		numbers = map[string]int64{}
	}
	return &MapDirectory{Numbers: numbers}
}

func (d *MapDirectory) Lookup(number string) (int64, bool) {
	ws, ok := d.Numbers[number]
	return ws, ok
}

func (d *MapDirectory) Register(ctx context.Context, number string, workspaceID int64, isPrimary bool) error {
	if d.RegisterErr != nil {
		return d.RegisterErr
	}
	d.Numbers[number] = workspaceID
	d.Registered = append(d.Registered, storage.WorkspacePhone{
		WorkspaceID: workspaceID,
		PhoneNumber: number,
		IsPrimary:   isPrimary,
	})
	return nil
}
