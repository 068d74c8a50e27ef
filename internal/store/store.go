// Package store drží měření zařízení. Je to "Source of Truth" celého systému:
// index posledních hodnot i dotazy dashboardu se z něj dají kdykoliv přepočítat.
package store

import (
	"context"
	"fmt"
	"time"

	"env-dashboard/internal/reading"
)

// Store je kontrakt úložiště. Implementace: Memory (vývoj, testy) a Postgres (produkce).
//
// Každý úspěšný Insert musí být vidět všem dotazům, které přijdou po jeho návratu.
// Dotaz nikdy nevidí napůl zapsaný záznam (read-committed).
type Store interface {
	// Insert uloží měření a vrátí ho s přiděleným Seq.
	Insert(ctx context.Context, r reading.Reading) (reading.Reading, error)

	// QueryByDevice vrací celou historii zařízení, pořadí není zaručeno.
	QueryByDevice(ctx context.Context, deviceID int) ([]reading.Reading, error)

	// QueryRecent vrací count nejnovějších měření, od nejnovějšího. count < 1 znamená 1.
	QueryRecent(ctx context.Context, deviceID, count int) ([]reading.Reading, error)

	// QueryWindow vrací měření v intervalu [from, to) od nejstaršího.
	// Nulové to znamená "bez horní meze".
	QueryWindow(ctx context.Context, deviceID int, from, to time.Time) ([]reading.Reading, error)

	// QueryLatestAll vrací nejnovější měření každého zařízení, které kdy něco poslalo.
	QueryLatestAll(ctx context.Context) (map[int]reading.Reading, error)

	// DeleteByDevice vrací true, pokud se smazal aspoň jeden záznam.
	DeleteByDevice(ctx context.Context, deviceID int) (bool, error)

	DeleteAll(ctx context.Context) error

	Close()
}

// StorageError obaluje jakoukoliv chybu backendu (DB nedostupná, odmítnutý dotaz).
// Na HTTP hranici z ní je 500, opakování necháváme na volajícím.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("úložiště (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
