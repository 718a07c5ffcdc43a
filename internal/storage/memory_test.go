package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvull/sparkcards/internal/models"
)

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(models.KindGeneric)
	fields := models.PassFields{
		Title:        "Coffee Madrid",
		Subheader:    "Ana",
		HeroImageURI: "https://img/stamps_0.png",
		Modules:      []models.TextModule{{ID: "stamps", Body: "0 / 8"}},
		State:        models.StateActive,
	}

	outcome, err := m.Create(ctx, "3388.a", "3388.cls", fields)
	require.NoError(t, err)
	assert.Equal(t, models.Created, outcome)

	outcome, err = m.Create(ctx, "3388.a", "3388.cls", fields)
	require.NoError(t, err)
	assert.Equal(t, models.AlreadyExists, outcome)
	assert.Equal(t, 1, m.Len())

	patched, err := m.Patch(ctx, "3388.a", models.PassFields{HeroImageURI: "https://img/stamps_1.png"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", patched.Subheader)
	assert.Equal(t, "https://img/stamps_1.png", patched.HeroImageURI)
	assert.Equal(t, 1, m.Patches("3388.a"))

	got, err := m.Get(ctx, "3388.a")
	require.NoError(t, err)
	assert.Equal(t, "3388.cls", got.ClassID)
	assert.Equal(t, models.KindGeneric, got.Kind)

	t.Run("returned objects are copies", func(t *testing.T) {
		got.Modules[0].Body = "7 / 8"
		again, err := m.Get(ctx, "3388.a")
		require.NoError(t, err)
		assert.Equal(t, "0 / 8", again.Modules[0].Body)
	})
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory(models.KindGeneric)
	_, err := m.Get(context.Background(), "3388.none")
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = m.Patch(context.Background(), "3388.none", models.PassFields{Subheader: "x"})
	assert.ErrorAs(t, err, &nf)
	assert.Zero(t, m.Patches("3388.none"))
}

func TestMemory_LoyaltyDropsClassLevelFields(t *testing.T) {
	m := NewMemory(models.KindLoyalty)
	_, err := m.Create(context.Background(), "3388.l", "3388.cls", models.PassFields{Title: "Coffee", Subheader: "Ana"})
	require.NoError(t, err)
	got, err := m.Get(context.Background(), "3388.l")
	require.NoError(t, err)
	assert.Empty(t, got.Title)
	assert.Equal(t, "Ana", got.Subheader)
}

func TestMemory_CreateClass(t *testing.T) {
	m := NewMemory(models.KindGeneric)
	outcome, err := m.CreateClass(context.Background(), models.ClassSpec{ID: "3388.cls"})
	require.NoError(t, err)
	assert.Equal(t, models.Created, outcome)
	outcome, err = m.CreateClass(context.Background(), models.ClassSpec{ID: "3388.cls"})
	require.NoError(t, err)
	assert.Equal(t, models.AlreadyExists, outcome)
}

func TestMemory_ConcurrentCreate(t *testing.T) {
	m := NewMemory(models.KindGeneric)
	var wg sync.WaitGroup
	created := make(chan models.CreateOutcome, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := m.Create(context.Background(), "3388.same", "3388.cls", models.PassFields{Subheader: "Ana"})
			assert.NoError(t, err)
			created <- o
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for o := range created {
		if o == models.Created {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
