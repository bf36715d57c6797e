package legion_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentoven/legion/internal/legion"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMinion_Defaults(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	m := h.addMinion(t, "Alpha")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, models.DefaultProvider, m.Provider)
	assert.Equal(t, models.DefaultTemperature, m.Params.Temperature)
	assert.Equal(t, models.MinionStatusIdle, m.Status)
	assert.NotNil(t, m.OpinionScores)
	assert.Nil(t, m.LastDiaryState)
}

func TestCreateMinion_Validation(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	tests := []struct {
		name string
		p    models.MinionPayload
	}{
		{"no name", models.MinionPayload{ModelID: "m"}},
		{"no model", models.MinionPayload{Name: "Alpha"}},
		{"hot temperature", models.MinionPayload{Name: "Alpha", ModelID: "m", Params: &models.MinionParams{Temperature: 1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateMinion(context.Background(), &tt.p)
			assert.ErrorIs(t, err, legion.ErrInvalidInput)
		})
	}
}

func TestUpdateMinion_KeepsStateAndRebuildsAgent(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()
	alpha := h.addMinion(t, "Alpha")
	alpha.OpinionScores = map[string]int{"Commander": 80}
	require.NoError(t, h.store.SaveMinion(ctx, alpha))

	updated, err := h.svc.UpdateMinion(ctx, alpha.ID, &models.MinionPayload{
		Name: "Alpha", ModelID: "model-Alpha", Persona: "Now a poet.",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Commander": 80}, updated.OpinionScores)
	assert.Equal(t, models.DefaultTemperature, updated.Params.Temperature)

	h.addChannel(t, "c1", models.ChannelUserGroup, "Alpha")
	h.llm.perceive["model-Alpha"] = outcome{text: planJSON(t, models.ActionStaySilent, 1, nil)}
	_, err = h.svc.HandleUserMessage(ctx, "c1", "verse?")
	require.NoError(t, err)
	require.NotEmpty(t, h.llm.calls)
	assert.Contains(t, h.llm.calls[0].Prompt, "Now a poet.")
}

func TestUpdateMinion_NotFound(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	_, err := h.svc.UpdateMinion(context.Background(), "missing", &models.MinionPayload{Name: "X", ModelID: "m"})
	assert.True(t, store.IsNotFound(err))
}

func TestDeleteMinion_LeavesTurns(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()
	alpha := h.addMinion(t, "Alpha")
	h.addChannel(t, "c1", models.ChannelUserGroup, "Alpha")

	require.NoError(t, h.svc.DeleteMinion(ctx, alpha.ID))
	out, err := h.svc.HandleUserMessage(ctx, "c1", "anyone?")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, h.llm.callCount())
}

func TestInit_RegistersStoredMinions(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()
	require.NoError(t, h.store.SaveMinion(ctx, &models.Minion{ID: "m1", Name: "Alpha", ModelID: "model-Alpha", Persona: "stored persona"}))
	require.NoError(t, h.svc.Init(ctx))

	h.addChannel(t, "c1", models.ChannelUserGroup, "Alpha")
	h.llm.perceive["model-Alpha"] = outcome{text: planJSON(t, models.ActionStaySilent, 1, nil)}
	out, err := h.svc.HandleUserMessage(ctx, "c1", "hello")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, h.llm.calls[0].Prompt, "stored persona")
}

func TestCreateChannel_AppliesAutomationDefaults(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	c, err := h.svc.CreateChannel(context.Background(), &models.ChannelPayload{
		Name: "general", Type: models.ChannelUserGroup,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.NotNil(t, c.Members)
	assert.Equal(t, models.DelayFixed, c.AutoModeDelayType)
	assert.Equal(t, 5, c.AutoModeFixedDelay)
	assert.Equal(t, &models.DelayRange{Min: 3, Max: 10}, c.AutoModeRandomDelay)
}

func TestCreateChannel_Validation(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	tests := []struct {
		name string
		p    models.ChannelPayload
	}{
		{"no name", models.ChannelPayload{Type: models.ChannelUserGroup}},
		{"bad type", models.ChannelPayload{Name: "x", Type: "party"}},
		{"bad delay type", models.ChannelPayload{Name: "x", Type: models.ChannelSwarm, AutoModeDelayType: "sometimes"}},
		{"inverted range", models.ChannelPayload{Name: "x", Type: models.ChannelSwarm, AutoModeRandomDelay: &models.DelayRange{Min: 9, Max: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateChannel(context.Background(), &tt.p)
			assert.ErrorIs(t, err, legion.ErrInvalidInput)
		})
	}
}

func TestUpdateChannel_KeepsUnsetAutomation(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()
	on := true
	c, err := h.svc.CreateChannel(ctx, &models.ChannelPayload{
		Name: "swarm", Type: models.ChannelSwarm, IsAutoModeActive: &on, AutoModeFixedDelay: 12,
	})
	require.NoError(t, err)

	updated, err := h.svc.UpdateChannel(ctx, c.ID, &models.ChannelPayload{
		Name: "swarm-2", Type: models.ChannelSwarm, Members: []string{"Alpha"},
	})
	require.NoError(t, err)
	assert.Equal(t, "swarm-2", updated.Name)
	assert.Equal(t, []string{"Alpha"}, updated.Members)
	assert.True(t, updated.IsAutoModeActive)
	assert.Equal(t, 12, updated.AutoModeFixedDelay)
}

func TestDeleteChannel_RemovesHistory(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()
	h.addChannel(t, "c1", models.ChannelUserGroup)
	_, err := h.svc.HandleUserMessage(ctx, "c1", "hello")
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteChannel(ctx, "c1"))
	msgs, err := h.svc.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAddAPIKey(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx := context.Background()

	_, err := h.svc.AddAPIKey(ctx, &models.APIKey{Name: "no secret"})
	assert.ErrorIs(t, err, legion.ErrInvalidInput)

	k, err := h.svc.AddAPIKey(ctx, &models.APIKey{Name: "primary", Key: "AIzaSecret"})
	require.NoError(t, err)
	assert.NotEmpty(t, k.ID)

	pool, err := h.svc.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "AIza****", pool[0].Masked().Key)

	require.NoError(t, h.svc.DeleteAPIKey(ctx, k.ID))
	pool, _ = h.svc.ListAPIKeys(ctx)
	assert.Empty(t, pool)
}

// ─── Autopilot ───────────────────────────────────────────────

func TestAutoDelay(t *testing.T) {
	fixed := &models.Channel{AutoModeDelayType: models.DelayFixed, AutoModeFixedDelay: 7}
	assert.Equal(t, 7*time.Second, legion.AutoDelay(fixed))

	random := &models.Channel{AutoModeDelayType: models.DelayRandom, AutoModeRandomDelay: &models.DelayRange{Min: 3, Max: 5}}
	for i := 0; i < 50; i++ {
		d := legion.AutoDelay(random)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}

	degenerate := &models.Channel{AutoModeDelayType: models.DelayRandom, AutoModeRandomDelay: &models.DelayRange{Min: 4, Max: 4}}
	assert.Equal(t, 4*time.Second, legion.AutoDelay(degenerate))
}

func TestAutopilot_DrivesActiveSwarmChannels(t *testing.T) {
	h := newTestService(t, "default", legion.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.addMinion(t, "Alpha")
	on := true
	for _, c := range []models.ChannelPayload{
		{ID: "swarm", Name: "swarm", Type: models.ChannelSwarm, Members: []string{"Alpha"}, IsAutoModeActive: &on},
		{ID: "idle-swarm", Name: "idle-swarm", Type: models.ChannelSwarm, Members: []string{"Alpha"}},
		{ID: "group", Name: "group", Type: models.ChannelUserGroup, Members: []string{"Alpha"}, IsAutoModeActive: &on},
	} {
		_, err := h.svc.CreateChannel(ctx, &c)
		require.NoError(t, err)
		require.NoError(t, h.store.SaveMessage(ctx, &models.ChatMessage{
			ID: "seed-" + c.ID, ChannelID: c.ID, SenderType: models.SenderUser, SenderName: "Commander",
			Content: "begin", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
	h.speaks(t, "Alpha", 10, "autonomous hello")

	ap := legion.NewAutopilot(h.svc, 5*time.Millisecond)
	ap.Delay = func(*models.Channel) time.Duration { return 0 }
	done := make(chan struct{})
	go func() {
		ap.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		msgs, _ := h.store.ListMessages(context.Background(), "swarm")
		return len(senders(msgs, models.SenderAI)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	for _, id := range []string{"idle-swarm", "group"} {
		msgs, _ := h.store.ListMessages(context.Background(), id)
		assert.Len(t, msgs, 1, "channel %s should not have run", id)
	}
}
