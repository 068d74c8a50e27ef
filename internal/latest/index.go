// Package latest udržuje poslední měření každého zařízení.
//
// Index je "synchronní": každý zápis do úložiště jde přes něj, pod zámkem
// daného zařízení, a index se aktualizuje ve stejné kritické sekci jako insert.
// Díky tomu push na dashboard vždy nese hodnotu, která odpovídá právě
// dokončenému insertu, a ne nějakou starší z cache.
package latest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"env-dashboard/internal/reading"
	"env-dashboard/internal/store"
)

// Mirror je volitelná kopie indexu mimo proces (Valkey/Redis), kterou čtou další služby.
// Chyby mirroru jsou jen logované, zdrojem pravdy zůstává Store.
type Mirror interface {
	Put(ctx context.Context, r reading.Reading) error
	Forget(ctx context.Context, deviceID int) error
	ForgetAll(ctx context.Context) error
}

// mirrorTimeout omezuje každé volání mirroru. Běží pod zámkem zařízení,
// takže výpadek Valkey nesmí zdržet příjem dat déle.
const mirrorTimeout = 500 * time.Millisecond

// CommitFunc se volá po úspěšném insertu, ještě pod zámkem zařízení.
// stored je právě vložené měření, latest je nejnovější měření zařízení po insertu.
// Musí být rychlá a neblokující (typicky jen zařadí push do front odběratelů).
type CommitFunc func(stored, latest reading.Reading)

type Index struct {
	store   store.Store
	mirror  Mirror
	logger  *slog.Logger
	devices int

	// writeMu serializuje zápisy jednoho zařízení. Různá zařízení běží paralelně.
	writeMu []sync.Mutex

	mu     sync.RWMutex
	latest map[int]reading.Reading
}

// New vytvoří index nad úložištěm pro zařízení 0..devices-1. mirror může být nil.
func New(st store.Store, devices int, mirror Mirror, logger *slog.Logger) *Index {
	return &Index{
		store:   st,
		mirror:  mirror,
		logger:  logger,
		devices: devices,
		writeMu: make([]sync.Mutex, devices),
		latest:  make(map[int]reading.Reading, devices),
	}
}

// Devices vrací počet podporovaných zařízení.
func (ix *Index) Devices() int { return ix.devices }

// Known říká, jestli ID patří do rozsahu podporovaných zařízení.
func (ix *Index) Known(deviceID int) bool {
	return deviceID >= 0 && deviceID < ix.devices
}

// Warm načte poslední hodnoty z úložiště (při startu služby).
// Zařízení mimo rozsah ignoruje - mohou to být zbytky po změně DEVICE_COUNT.
func (ix *Index) Warm(ctx context.Context) error {
	all, err := ix.store.QueryLatestAll(ctx)
	if err != nil {
		return fmt.Errorf("nelze načíst poslední hodnoty: %w", err)
	}

	fresh := make(map[int]reading.Reading, len(all))
	for id, r := range all {
		if !ix.Known(id) {
			ix.logger.Warn("Ignoruji data zařízení mimo rozsah", "device_id", id, "devices", ix.devices)
			continue
		}
		fresh[id] = r
		ix.mirrorPut(ctx, r)
	}

	ix.mu.Lock()
	ix.latest = fresh
	ix.mu.Unlock()

	ix.logger.Info("Index posledních hodnot načten", "devices_with_data", len(fresh))
	return nil
}

// Commit uloží měření a atomicky vůči ostatním zápisům téhož zařízení
// aktualizuje index a zavolá then (pokud není nil).
func (ix *Index) Commit(ctx context.Context, r reading.Reading, then CommitFunc) (reading.Reading, error) {
	if err := r.Validate(ix.devices); err != nil {
		return reading.Reading{}, err
	}

	lock := &ix.writeMu[r.DeviceID]
	lock.Lock()
	defer lock.Unlock()

	stored, err := ix.store.Insert(ctx, r)
	if err != nil {
		return reading.Reading{}, err
	}

	ix.mu.Lock()
	cur, ok := ix.latest[stored.DeviceID]
	if !ok || stored.Newer(cur) {
		cur = stored
		ix.latest[stored.DeviceID] = stored
	}
	ix.mu.Unlock()

	if cur.Seq == stored.Seq {
		ix.mirrorPut(ctx, stored)
	}
	if then != nil {
		then(stored, cur)
	}
	return stored, nil
}

// Latest vrací poslední měření zařízení.
func (ix *Index) Latest(deviceID int) (reading.Reading, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	r, ok := ix.latest[deviceID]
	return r, ok
}

// Snapshot vrací kopii celého indexu (jen zařízení s daty).
func (ix *Index) Snapshot() map[int]reading.Reading {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[int]reading.Reading, len(ix.latest))
	for id, r := range ix.latest {
		out[id] = r
	}
	return out
}

// Forget smaže data zařízení v úložišti i v indexu. Vrací true, pokud se něco smazalo.
func (ix *Index) Forget(ctx context.Context, deviceID int) (bool, error) {
	if !ix.Known(deviceID) {
		// Neznámé zařízení nemá zámek ani záznam v indexu, ale v DB mohou být staré řádky.
		return ix.store.DeleteByDevice(ctx, deviceID)
	}

	lock := &ix.writeMu[deviceID]
	lock.Lock()
	defer lock.Unlock()

	found, err := ix.store.DeleteByDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}

	ix.mu.Lock()
	delete(ix.latest, deviceID)
	ix.mu.Unlock()

	if ix.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		if err := ix.mirror.Forget(mctx, deviceID); err != nil {
			ix.logger.Warn("Mirror: nelze smazat poslední hodnotu", "device_id", deviceID, "error", err)
		}
	}
	return found, nil
}

// Reset smaže všechno. Zamyká všechna zařízení vzestupně, takže nemůže
// proběhnout uprostřed insertu.
func (ix *Index) Reset(ctx context.Context) error {
	for i := range ix.writeMu {
		ix.writeMu[i].Lock()
	}
	defer func() {
		for i := len(ix.writeMu) - 1; i >= 0; i-- {
			ix.writeMu[i].Unlock()
		}
	}()

	if err := ix.store.DeleteAll(ctx); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.latest = make(map[int]reading.Reading, ix.devices)
	ix.mu.Unlock()

	if ix.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		if err := ix.mirror.ForgetAll(mctx); err != nil {
			ix.logger.Warn("Mirror: nelze smazat poslední hodnoty", "error", err)
		}
	}
	return nil
}

func (ix *Index) mirrorPut(ctx context.Context, r reading.Reading) {
	if ix.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := ix.mirror.Put(mctx, r); err != nil {
		// Redis chyba není kritická pro integritu dat (máme je ve Store).
		ix.logger.Warn("Mirror: nelze uložit poslední hodnotu", "device_id", r.DeviceID, "error", err)
	}
}
