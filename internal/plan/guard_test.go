package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalGuard(t *testing.T, src string, ctx map[string]interface{}) bool {
	t.Helper()
	g, err := ParseGuard(src)
	require.NoError(t, err, "guard %q should parse", src)
	return g.Eval(ctx)
}

func TestGuard_Comparisons(t *testing.T) {
	ctx := map[string]interface{}{
		"status": "ok",
		"count":  float64(3),
		"flag":   true,
	}

	assert.True(t, evalGuard(t, `status == 'ok'`, ctx))
	assert.False(t, evalGuard(t, `status == 'bad'`, ctx))
	assert.True(t, evalGuard(t, `status != 'bad'`, ctx))
	assert.True(t, evalGuard(t, `count > 2`, ctx))
	assert.True(t, evalGuard(t, `count >= 3`, ctx))
	assert.False(t, evalGuard(t, `count < 3`, ctx))
	assert.True(t, evalGuard(t, `count <= 3`, ctx))
	assert.True(t, evalGuard(t, `flag == true`, ctx))
}

func TestGuard_NumericEqualityAcrossIntAndFloat(t *testing.T) {
	// Results arriving through JSON are float64; hand-built contexts use int.
	assert.True(t, evalGuard(t, `n == 5`, map[string]interface{}{"n": 5}))
	assert.True(t, evalGuard(t, `n == 5`, map[string]interface{}{"n": float64(5)}))
	assert.False(t, evalGuard(t, `n == 5`, map[string]interface{}{"n": "5"}))
}

func TestGuard_LogicalOperators(t *testing.T) {
	ctx := map[string]interface{}{"a": true, "b": false}

	assert.True(t, evalGuard(t, `a && !b`, ctx))
	assert.False(t, evalGuard(t, `a && b`, ctx))
	assert.True(t, evalGuard(t, `a || b`, ctx))
	assert.True(t, evalGuard(t, `!(a && b)`, ctx))
	assert.False(t, evalGuard(t, `!a || b`, ctx))
}

func TestGuard_DottedPathAndNull(t *testing.T) {
	ctx := map[string]interface{}{
		"A_result": map[string]interface{}{
			"echoed": map[string]interface{}{"msg": "hello"},
		},
		"B_result": nil,
	}

	assert.True(t, evalGuard(t, `A_result.echoed.msg == 'hello'`, ctx))
	assert.True(t, evalGuard(t, `B_result == null`, ctx))
	assert.True(t, evalGuard(t, `missing == null`, ctx))
	assert.False(t, evalGuard(t, `missing.deeper == 'x'`, ctx))
	// A skipped dependency's null result must read as falsy.
	assert.False(t, evalGuard(t, `B_result`, ctx))
}

func TestGuard_Truthiness(t *testing.T) {
	assert.False(t, evalGuard(t, `v`, map[string]interface{}{"v": ""}))
	assert.False(t, evalGuard(t, `v`, map[string]interface{}{"v": float64(0)}))
	assert.False(t, evalGuard(t, `v`, map[string]interface{}{"v": map[string]interface{}{}}))
	assert.False(t, evalGuard(t, `v`, map[string]interface{}{"v": []interface{}{}}))
	assert.True(t, evalGuard(t, `v`, map[string]interface{}{"v": "x"}))
	assert.True(t, evalGuard(t, `v`, map[string]interface{}{"v": []interface{}{1}}))
}

func TestGuard_NegativeNumbersAndParens(t *testing.T) {
	ctx := map[string]interface{}{"delta": float64(-2)}
	assert.True(t, evalGuard(t, `delta < 0`, ctx))
	assert.True(t, evalGuard(t, `(delta < 0) || (delta > 10)`, ctx))
	assert.True(t, evalGuard(t, `delta == -2`, ctx))
}

func TestGuard_StringOrdering(t *testing.T) {
	ctx := map[string]interface{}{"name": "beta"}
	assert.True(t, evalGuard(t, `name > 'alpha'`, ctx))
	assert.False(t, evalGuard(t, `name > 'gamma'`, ctx))
}

func TestParseGuard_Rejections(t *testing.T) {
	bad := []string{
		"",
		"x ==",
		"(x",
		"x &&",
		"'unterminated",
		"a..b",
		"a.",
		"x @ y",
		"x == 1 extra",
	}
	for _, src := range bad {
		_, err := ParseGuard(src)
		assert.Error(t, err, "guard %q should not parse", src)
	}
}

func TestGuard_StringPreservesSource(t *testing.T) {
	src := `status == 'ok' && count > 1`
	g, err := ParseGuard(src)
	require.NoError(t, err)
	assert.Equal(t, src, g.String())
}
