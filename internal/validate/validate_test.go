package validate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"list-mutator/internal/merr"
)

func TestCollector_NoViolations(t *testing.T) {
	var c Collector
	assert.NoError(t, c.Err())
	assert.Empty(t, c.Violations())
}

func TestCollector_CollectsEveryViolation(t *testing.T) {
	var c Collector
	c.Report("title is blank", map[string]interface{}{"field": "title"})
	c.Report("status is unknown", map[string]interface{}{"field": "status"})
	c.Report("slug is taken", nil)

	err := c.Err()
	require.Error(t, err)

	var me *merr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, merr.KindValidationFailure, me.Kind)
	assert.Equal(t, "the mutation failed validation", me.Message)

	entries, ok := me.Data["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 3)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "title is blank", first["message"])
	assert.Equal(t, map[string]interface{}{"field": "title"}, first["data"])

	// Empty data stays off the wire.
	third := entries[2].(map[string]interface{})
	_, hasData := third["data"]
	assert.False(t, hasData)
}

func TestCollector_ConcurrentReports(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Report("violation", nil)
		}()
	}
	wg.Wait()
	assert.Len(t, c.Violations(), 50)
}

func TestRun_ReportsThroughCallback(t *testing.T) {
	err := Run(func(report func(message string, data map[string]interface{})) {
		report("first", nil)
		report("second", nil)
	})
	require.Error(t, err)

	var me *merr.Error
	require.True(t, errors.As(err, &me))
	entries := me.Data["errors"].([]interface{})
	assert.Len(t, entries, 2)
}

func TestRun_CleanRoutine(t *testing.T) {
	assert.NoError(t, Run(func(report func(message string, data map[string]interface{})) {}))
}
