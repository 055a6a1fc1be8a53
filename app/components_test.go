package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedComponent(name string, events *[]string, startErr error) Component {
	return NewComponent(name,
		func() error {
			*events = append(*events, "start:"+name)
			return startErr
		},
		func() error {
			*events = append(*events, "stop:"+name)
			return nil
		})
}

func TestComponentManagerOrder(t *testing.T) {
	var events []string
	m := NewComponentManager(nil)
	for _, name := range []string{"logging", "scheduler", "alerting"} {
		m.Register(trackedComponent(name, &events, nil))
	}
	assert.Equal(t, []string{"logging", "scheduler", "alerting"}, m.Names())

	require.NoError(t, m.StartAll())
	require.Error(t, m.StartAll(), "重复启动应报错")
	require.NoError(t, m.StopAll())
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{
		"start:logging", "start:scheduler", "start:alerting",
		"stop:alerting", "stop:scheduler", "stop:logging",
	}, events)
}

func TestComponentManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewComponentManager(nil)
	m.Register(trackedComponent("logging", &events, nil))
	m.Register(trackedComponent("backup", &events, errors.New("cron 表达式错误")))
	m.Register(trackedComponent("maintenance", &events, nil))

	err := m.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup")
	assert.Equal(t, []string{"start:logging", "start:backup", "stop:logging"}, events)
}

func TestComponentManagerJoinsStopErrors(t *testing.T) {
	m := NewComponentManager(nil)
	m.Register(NewComponent("a", nil, func() error { return errors.New("a failed") }))
	m.Register(NewComponent("b", nil, nil))
	m.Register(NewComponent("c", nil, func() error { return errors.New("c failed") }))

	require.NoError(t, m.StartAll())
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "c failed")
}
