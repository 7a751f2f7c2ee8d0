package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

const snapshotKeyPrefix = "snapshot:"

// SnapshotStore представляет собой архив снимков мира на BadgerDB.
// Снимки сжимаются zstd перед записью.
type SnapshotStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// WorldSnapshot содержит полное состояние мира на момент снятия
type WorldSnapshot struct {
	TakenAt    time.Time           `json:"taken_at"`
	Agents     []*entity.Agent     `json:"agents"`
	Structures []*entity.Structure `json:"structures"`
}

// SnapshotInfo описывает запись архива без полезной нагрузки
type SnapshotInfo struct {
	ID      string    `json:"id"`
	TakenAt time.Time `json:"taken_at"`
	Bytes   int64     `json:"bytes"`
}

// NewSnapshotStore открывает архив снимков
func NewSnapshotStore(dataPath string) (*SnapshotStore, error) {
	dbPath := filepath.Join(dataPath, "snapshots")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd-кодировщик: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd-декодер: %w", err)
	}

	return &SnapshotStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		enc:     enc,
		dec:     dec,
	}, nil
}

// Save сохраняет снимок мира и возвращает его идентификатор.
// Идентификатором служит отметка времени снятия, поэтому
// лексикографический порядок ключей совпадает с хронологическим.
func (s *SnapshotStore) Save(ctx context.Context, snap *WorldSnapshot) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return "", apperr.New(apperr.KindState, "архив снимков закрыт")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	id := snap.TakenAt.UTC().Format("20060102T150405.000000000")

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	compressed := s.enc.EncodeAll(data, nil)

	key := snapshotKeyPrefix + id
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), compressed)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInfrastructure, err, "ошибка сохранения снимка в BadgerDB")
	}

	return id, nil
}

// Load загружает снимок по идентификатору
func (s *SnapshotStore) Load(ctx context.Context, id string) (*WorldSnapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, apperr.New(apperr.KindState, "архив снимков закрыт")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := snapshotKeyPrefix + id
	var compressed []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			compressed = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, apperr.New(apperr.KindNotFound, "снимок %s не найден", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка чтения снимка из BadgerDB")
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки снимка %s: %w", id, err)
	}

	var snap WorldSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снимка %s: %w", id, err)
	}
	return &snap, nil
}

// List возвращает описания всех снимков, от новых к старым
func (s *SnapshotStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, apperr.New(apperr.KindState, "архив снимков закрыт")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make([]SnapshotInfo, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(snapshotKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(snapshotKeyPrefix):])
			takenAt, err := time.Parse("20060102T150405.000000000", id)
			if err != nil {
				continue
			}
			result = append(result, SnapshotInfo{
				ID:      id,
				TakenAt: takenAt,
				Bytes:   item.ValueSize(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обхода архива снимков")
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// Latest загружает самый свежий снимок
func (s *SnapshotStore) Latest(ctx context.Context) (*WorldSnapshot, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "архив снимков пуст")
	}
	return s.Load(ctx, infos[0].ID)
}

// Prune удаляет старые снимки, оставляя keep самых свежих
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, apperr.New(apperr.KindValidation, "keep не может быть отрицательным")
	}

	infos, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) <= keep {
		return 0, nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return 0, apperr.New(apperr.KindState, "архив снимков закрыт")
	}

	removed := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, info := range infos[keep:] {
			if err := txn.Delete([]byte(snapshotKeyPrefix + info.ID)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка удаления старых снимков")
	}
	return removed, nil
}

// Close закрывает архив снимков
func (s *SnapshotStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
