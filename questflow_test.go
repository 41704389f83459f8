package questflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/engine"
	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

func TestNewCampaignRequiresProvider(t *testing.T) {
	_, err := NewCampaign("demo", []string{"kira"})
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingCredential, types.GetErrorCode(err))
}

func TestCampaignRunsOneRound(t *testing.T) {
	provider := llm.NewScriptedProvider("scripted",
		llm.Reply("The tavern door creaks open."),
		llm.Reply("I look up from my ale."),
		llm.Reply("I reach for my staff."),
	)

	c, err := NewCampaign("demo", []string{"kira", "tomas"},
		WithProvider(provider),
		WithMaxRounds(1),
	)
	require.NoError(t, err)

	final, reason, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StopTurnLimit, reason)
	assert.Len(t, final.GroundTruthLog, 3)

	// The initial state is untouched; rounds work on clones.
	assert.Empty(t, c.State().GroundTruthLog)
}

func TestCampaignWritesCheckpoints(t *testing.T) {
	dir := t.TempDir()
	provider := llm.NewScriptedProvider("scripted",
		llm.Reply("A storm gathers."),
		llm.Reply("I seek shelter."),
	)

	c, err := NewCampaign("stormy", []string{"kira"},
		WithProvider(provider),
		WithMaxRounds(1),
		WithCheckpoints(dir),
	)
	require.NoError(t, err)

	_, _, err = c.Run(context.Background())
	require.NoError(t, err)

	store := persistence.NewFileStore(dir, nil)
	turns, err := store.ListTurns(context.Background(), "stormy", "")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, turns)
}
