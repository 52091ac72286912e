package models

import (
	"encoding/json"
	"fmt"
)

// Имена синхронизируемых таблиц
const (
	TablePlants         = "plants"
	TableJournalEntries = "journal_entries"
	TableHarvests       = "harvests"
	TableInventoryItems = "inventory_items"
)

// PlantPayload поля таблицы plants
type PlantPayload struct {
	Name      string `json:"name"`
	Strain    string `json:"strain,omitempty"`
	Stage     string `json:"stage"` // seedling, vegetative, flowering, drying, archived
	Location  string `json:"location,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
}

// JournalEntryPayload поля таблицы journal_entries.
// PhotoURI может указывать на локальный, ещё не загруженный файл —
// такое значение не должно затираться пустым значением с сервера.
type JournalEntryPayload struct {
	PlantID  string  `json:"plant_id"`
	Kind     string  `json:"kind"` // note, watering, feeding, photo, measurement
	Note     string  `json:"note,omitempty"`
	PhotoURI string  `json:"photo_uri,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// HarvestPayload поля таблицы harvests
type HarvestPayload struct {
	PlantID     string  `json:"plant_id"`
	WetWeightG  float64 `json:"wet_weight_g,omitempty"`
	DryWeightG  float64 `json:"dry_weight_g,omitempty"`
	HarvestedAt int64   `json:"harvested_at"`
}

// InventoryItemPayload поля таблицы inventory_items
type InventoryItemPayload struct {
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"` // nutrient, substrate, tool
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit,omitempty"`
	ExpiresAt int64   `json:"expires_at,omitempty"`
}

// TableSchema описывает таблицу для generic reconciliation engine:
// список полей и явная политика сохранения полей при merge.
// PreserveFields — поля, локальное значение которых сохраняется, если
// удалённая версия не несёт непустой замены (например локальный photo_uri,
// ещё не загруженный на сервер).
type TableSchema struct {
	Name           string
	Fields         []string
	PreserveFields []string
}

// Tables — schema registry всех синхронизируемых таблиц
var Tables = map[string]TableSchema{
	TablePlants: {
		Name:   TablePlants,
		Fields: []string{"name", "strain", "stage", "location", "started_at"},
	},
	TableJournalEntries: {
		Name:           TableJournalEntries,
		Fields:         []string{"plant_id", "kind", "note", "photo_uri", "value", "unit"},
		PreserveFields: []string{"photo_uri"},
	},
	TableHarvests: {
		Name:   TableHarvests,
		Fields: []string{"plant_id", "wet_weight_g", "dry_weight_g", "harvested_at"},
	},
	TableInventoryItems: {
		Name:   TableInventoryItems,
		Fields: []string{"name", "category", "quantity", "unit", "expires_at"},
	},
}

// KnownTable проверяет, зарегистрирована ли таблица
func KnownTable(name string) bool {
	_, ok := Tables[name]
	return ok
}

// SchemaFor возвращает схему таблицы
func SchemaFor(name string) (TableSchema, error) {
	schema, ok := Tables[name]
	if !ok {
		return TableSchema{}, fmt.Errorf("unknown table %q", name)
	}
	return schema, nil
}

// MergePayloads применяет payload удалённой версии поверх локальной с учётом
// PreserveFields схемы: удалённые поля побеждают, но для preserve-полей
// непустое локальное значение сохраняется, пока сервер не пришлёт
// непустую замену.
func MergePayloads(schema TableSchema, local, remote json.RawMessage) (json.RawMessage, error) {
	if len(remote) == 0 {
		return local, nil
	}

	var remoteFields map[string]any
	if err := json.Unmarshal(remote, &remoteFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote payload: %w", err)
	}

	if len(schema.PreserveFields) > 0 && len(local) > 0 {
		var localFields map[string]any
		if err := json.Unmarshal(local, &localFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal local payload: %w", err)
		}

		for _, field := range schema.PreserveFields {
			localVal, localOK := localFields[field]
			if !localOK || isEmptyFieldValue(localVal) {
				continue
			}
			// Локальное значение непустое: затираем его только непустой заменой
			remoteVal, remoteOK := remoteFields[field]
			if !remoteOK || isEmptyFieldValue(remoteVal) {
				remoteFields[field] = localVal
			}
		}
	}

	merged, err := json.Marshal(remoteFields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged payload: %w", err)
	}
	return merged, nil
}

// isEmptyFieldValue проверяет "пустоту" значения поля для preserve-политики
func isEmptyFieldValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	default:
		return false
	}
}
