package memstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenantRow struct {
	ID      uuid.UUID
	Kind    string
	OwnerID string
}

type patientRow struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	Name     string
}

type bookingRow struct {
	ID           uuid.UUID
	HospitalID   uuid.UUID
	ClinicID     uuid.UUID
	EvacuationID *uuid.UUID
}

func TestSchemaValidates(t *testing.T) {
	require.NoError(t, Schema().Validate())
}

func TestTenantOwnerIndexIsUnique(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	txn := s.Txn(true)
	require.NoError(t, txn.Insert(TableTenants, &tenantRow{ID: uuid.New(), Kind: "clinic", OwnerID: "p1"}))
	require.NoError(t, txn.Insert(TableTenants, &tenantRow{ID: uuid.New(), Kind: "hospital", OwnerID: "p1"}))
	txn.Commit()

	read := s.Txn(false)
	obj, err := First(read, TableTenants, "owner", "clinic", "p1")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "clinic", obj.(*tenantRow).Kind)

	obj, err = First(read, TableTenants, "owner", "clinic", "p2")
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestScanByTenantColumn(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	c1, c2 := uuid.New(), uuid.New()
	txn := s.Txn(true)
	for i := 0; i < 3; i++ {
		require.NoError(t, txn.Insert(TablePatients, &patientRow{ID: uuid.New(), ClinicID: c1, Name: "a"}))
	}
	require.NoError(t, txn.Insert(TablePatients, &patientRow{ID: uuid.New(), ClinicID: c2, Name: "b"}))
	txn.Commit()

	read := s.Txn(false)
	rows, err := All(read, TablePatients, "clinic_id", nil, c1)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = All(read, TablePatients, "clinic_id", func(o interface{}) bool { return o.(*patientRow).Name == "b" }, c1)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = All(read, TablePatients, "clinic_id", nil, c2.String())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUUIDFieldIndex_NilPointerIsMissing(t *testing.T) {
	idx := &UUIDFieldIndex{Field: "EvacuationID"}

	ok, _, err := idx.FromObject(&bookingRow{ID: uuid.New()})
	require.NoError(t, err)
	assert.False(t, ok)

	evac := uuid.New()
	ok, val, err := idx.FromObject(&bookingRow{ID: uuid.New(), EvacuationID: &evac})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, evac.String()+"\x00", string(val))

	_, err = idx.FromArgs("not-a-uuid")
	assert.Error(t, err)
	_, _, err = (&UUIDFieldIndex{Field: "Name"}).FromObject(&patientRow{Name: "x"})
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, Page(items, 2, 0))
	assert.Equal(t, []int{5}, Page(items, 2, 4))
	assert.Empty(t, Page(items, 2, 10))
	assert.Equal(t, items, Page(items, 0, 0))
}

func TestScan_FullTable(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	txn := s.Txn(true)
	for i := 0; i < 3; i++ {
		require.NoError(t, txn.Insert(TablePatients, &patientRow{ID: uuid.New(), ClinicID: uuid.New(), Name: "p"}))
	}
	txn.Commit()

	read := s.Txn(false)
	all, err := Scan(read, TablePatients, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := Scan(read, TablePatients, func(interface{}) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, none)
}
