package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/iudanet/growlog/internal/models"
)

// tableAliases отображает короткие имена команд на таблицы
var tableAliases = map[string]string{
	"plant":     models.TablePlants,
	"plants":    models.TablePlants,
	"journal":   models.TableJournalEntries,
	"harvest":   models.TableHarvests,
	"harvests":  models.TableHarvests,
	"inventory": models.TableInventoryItems,
}

func resolveTable(arg string) (string, error) {
	table, ok := tableAliases[arg]
	if !ok {
		return "", fmt.Errorf("unknown table %q, use: plant, journal, harvest, inventory", arg)
	}
	return table, nil
}

func (c *Cli) runAdd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing table, usage: growlog add <plant|journal|harvest|inventory>")
	}
	table, err := resolveTable(args[0])
	if err != nil {
		return err
	}

	payload, err := c.promptPayload(table)
	if err != nil {
		return err
	}

	record, err := c.dataService.Create(ctx, table, c.currentOwner(ctx), payload)
	if err != nil {
		return err
	}

	c.io.Printf("Created %s %s\n", table, record.ID)
	return nil
}

// promptPayload собирает типизированный payload таблицы из ответов пользователя
func (c *Cli) promptPayload(table string) (json.RawMessage, error) {
	switch table {
	case models.TablePlants:
		name, err := c.io.ReadInput("Name: ")
		if err != nil {
			return nil, err
		}
		strain, err := c.io.ReadInput("Strain (optional): ")
		if err != nil {
			return nil, err
		}
		stage, err := c.io.ReadInput("Stage (seedling/vegetative/flowering): ")
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.PlantPayload{
			Name:      name,
			Strain:    strain,
			Stage:     stage,
			StartedAt: time.Now().UnixMilli(),
		})

	case models.TableJournalEntries:
		plantID, err := c.io.ReadInput("Plant ID: ")
		if err != nil {
			return nil, err
		}
		kind, err := c.io.ReadInput("Kind (note/watering/feeding/photo/measurement): ")
		if err != nil {
			return nil, err
		}
		note, err := c.io.ReadInput("Note (optional): ")
		if err != nil {
			return nil, err
		}
		photoURI, err := c.io.ReadInput("Photo URI (optional): ")
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.JournalEntryPayload{
			PlantID:  plantID,
			Kind:     kind,
			Note:     note,
			PhotoURI: photoURI,
		})

	case models.TableHarvests:
		plantID, err := c.io.ReadInput("Plant ID: ")
		if err != nil {
			return nil, err
		}
		wet, err := c.readFloat("Wet weight (g): ")
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.HarvestPayload{
			PlantID:     plantID,
			WetWeightG:  wet,
			HarvestedAt: time.Now().UnixMilli(),
		})

	case models.TableInventoryItems:
		name, err := c.io.ReadInput("Name: ")
		if err != nil {
			return nil, err
		}
		category, err := c.io.ReadInput("Category (nutrient/substrate/tool): ")
		if err != nil {
			return nil, err
		}
		quantity, err := c.readFloat("Quantity: ")
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.InventoryItemPayload{
			Name:     name,
			Category: category,
			Quantity: quantity,
		})

	default:
		return nil, fmt.Errorf("unsupported table %q", table)
	}
}

func (c *Cli) readFloat(prompt string) (float64, error) {
	raw, err := c.io.ReadInput(prompt)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return value, nil
}

func (c *Cli) runList(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing table, usage: growlog list <plant|journal|harvest|inventory>")
	}
	table, err := resolveTable(args[0])
	if err != nil {
		return err
	}

	records, err := c.dataService.List(ctx, table)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		c.io.Printf("No records in %s\n", table)
		return nil
	}

	for _, record := range records {
		c.io.Printf("%s  updated=%d  %s\n", record.ID, record.UpdatedAt, record.Payload)
	}
	return nil
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: growlog delete <table> <id>")
	}
	table, err := resolveTable(args[0])
	if err != nil {
		return err
	}

	if err := c.dataService.Delete(ctx, table, args[1]); err != nil {
		return err
	}
	c.io.Printf("Deleted %s %s\n", table, args[1])
	return nil
}
