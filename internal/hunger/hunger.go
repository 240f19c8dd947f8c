// Package hunger implements pull-based pet hunger. There is no background
// scheduler: decay is computed from the last tick whenever a pet is read.
package hunger

import (
	"time"

	"github.com/investipet/engine/internal/model"
)

const day = 24 * time.Hour

// Decay applies whole-day decay to pet as of now. Partial days are not
// consumed: the tick only advances when at least one full day has elapsed,
// so the fractional remainder carries over to the next read. A clock that
// went backwards counts as zero elapsed days. The second return value
// reports whether pet changed and must be persisted.
func Decay(pet model.Pet, now time.Time, perDay int) (model.Pet, bool) {
	elapsed := now.Sub(pet.LastHungerTick)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(elapsed / day)
	if days <= 0 {
		return pet, false
	}

	pet.Hunger -= days * perDay
	if pet.Hunger < 0 {
		pet.Hunger = 0
	}
	pet.LastHungerTick = now
	return pet, true
}

// Restore feeds pet by amount, capped at MaxHunger. The decay tick is not
// touched.
func Restore(pet model.Pet, amount int) model.Pet {
	pet.Hunger += amount
	if pet.Hunger > model.MaxHunger {
		pet.Hunger = model.MaxHunger
	}
	if pet.Hunger < 0 {
		pet.Hunger = 0
	}
	return pet
}
