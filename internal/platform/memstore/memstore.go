// Package memstore is the in-process record store used when STORE=memory and
// by the service tests. It holds the same tables as the Postgres schema and
// indexes every tenant-owning column.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

const (
	TableTenants       = "tenants"
	TablePatients      = "patients"
	TableVitals        = "vitals_logs"
	TableEvacuations   = "evacuations"
	TableCriticalCases = "critical_cases"
	TableBookings      = "bookings"

	IndexID = "id"
)

// Store wraps a go-memdb database.
type Store struct {
	db *memdb.MemDB
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(Schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// Txn starts a transaction. Write transactions must be committed or aborted.
func (s *Store) Txn(write bool) *memdb.Txn {
	return s.db.Txn(write)
}

// Ping always succeeds; it lets the store stand in for a pool in health checks.
func (s *Store) Ping(context.Context) error { return nil }

func uuidIndex(field string) *UUIDFieldIndex { return &UUIDFieldIndex{Field: field} }

func Schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			TableTenants: {
				Name: TableTenants,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID: {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"owner": {
						Name:   "owner",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Kind"},
							&memdb.StringFieldIndex{Field: "OwnerID"},
						}},
					},
					"kind": {Name: "kind", Indexer: &memdb.StringFieldIndex{Field: "Kind"}},
				},
			},
			TablePatients: {
				Name: TablePatients,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID:     {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"clinic_id": {Name: "clinic_id", Indexer: uuidIndex("ClinicID")},
				},
			},
			TableVitals: {
				Name: TableVitals,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID:      {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"clinic_id":  {Name: "clinic_id", Indexer: uuidIndex("ClinicID")},
					"patient_id": {Name: "patient_id", Indexer: uuidIndex("PatientID")},
				},
			},
			TableEvacuations: {
				Name: TableEvacuations,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID:              {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"origin_clinic_id":   {Name: "origin_clinic_id", Indexer: uuidIndex("OriginClinicID")},
					"target_hospital_id": {Name: "target_hospital_id", Indexer: uuidIndex("TargetHospitalID")},
					"patient_id":         {Name: "patient_id", Indexer: uuidIndex("PatientID")},
				},
			},
			TableCriticalCases: {
				Name: TableCriticalCases,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID:              {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"origin_clinic_id":   {Name: "origin_clinic_id", Indexer: uuidIndex("OriginClinicID")},
					"target_hospital_id": {Name: "target_hospital_id", Indexer: uuidIndex("TargetHospitalID")},
				},
			},
			TableBookings: {
				Name: TableBookings,
				Indexes: map[string]*memdb.IndexSchema{
					IndexID:         {Name: IndexID, Unique: true, Indexer: uuidIndex("ID")},
					"hospital_id":   {Name: "hospital_id", Indexer: uuidIndex("HospitalID")},
					"clinic_id":     {Name: "clinic_id", Indexer: uuidIndex("ClinicID")},
					"evacuation_id": {Name: "evacuation_id", Indexer: uuidIndex("EvacuationID")},
				},
			},
		},
	}
}

// UUIDFieldIndex indexes a uuid.UUID (or *uuid.UUID) struct field. A nil
// pointer or the zero UUID is treated as a missing value.
type UUIDFieldIndex struct {
	Field string
}

func (u *UUIDFieldIndex) FromObject(obj interface{}) (bool, []byte, error) {
	v := reflect.Indirect(reflect.ValueOf(obj))
	fv := v.FieldByName(u.Field)
	if !fv.IsValid() {
		return false, nil, fmt.Errorf("field '%s' for %#v is invalid", u.Field, obj)
	}
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return false, nil, nil
		}
		fv = fv.Elem()
	}
	id, ok := fv.Interface().(uuid.UUID)
	if !ok {
		return false, nil, fmt.Errorf("field '%s' is %s, not uuid.UUID", u.Field, fv.Type())
	}
	if id == uuid.Nil {
		return false, nil, nil
	}
	return true, append([]byte(id.String()), '\x00'), nil
}

func (u *UUIDFieldIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	var id uuid.UUID
	switch a := args[0].(type) {
	case uuid.UUID:
		id = a
	case string:
		parsed, err := uuid.Parse(a)
		if err != nil {
			return nil, err
		}
		id = parsed
	default:
		return nil, fmt.Errorf("argument must be a uuid.UUID or string: %#v", args[0])
	}
	return append([]byte(id.String()), '\x00'), nil
}

// PrefixFromArgs lets the id index serve full-table scans via "id_prefix".
func (u *UUIDFieldIndex) PrefixFromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	prefix, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	return []byte(strings.ToLower(prefix)), nil
}

// First returns the single object of table matching index/args, or nil.
func First(txn *memdb.Txn, table, index string, args ...interface{}) (interface{}, error) {
	obj, err := txn.First(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", table, index, err)
	}
	return obj, nil
}

// All collects every object of table matching index/args for which keep
// returns true (nil keeps everything).
func All(txn *memdb.Txn, table, index string, keep func(interface{}) bool, args ...interface{}) ([]interface{}, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s.%s: %w", table, index, err)
	}
	var out []interface{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if keep == nil || keep(obj) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Scan collects every object of table for which keep returns true.
func Scan(txn *memdb.Txn, table string, keep func(interface{}) bool) ([]interface{}, error) {
	return All(txn, table, IndexID+"_prefix", keep, "")
}

// Page returns the [offset, offset+limit) window of items.
func Page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
