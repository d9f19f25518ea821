package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchemaLookup(t *testing.T) {
	t.Parallel()

	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "a", Type: TypeInt, Default: "1"},
		{Key: "b", Section: "run"},
		{Key: "a", Type: TypeInt, Default: "2"},
	})
	assert.Equal(t, "2", s.Lookup("", "a").Default, "last registration wins")
	assert.NotNil(t, s.Lookup("run", "b"))
	assert.Nil(t, s.Lookup("", "b"))
	assert.Nil(t, s.Lookup("serve", "b"))
	assert.Equal(t, []string{"run"}, s.Sections())
	assert.Len(t, s.SectionOptions(""), 2)
}

func TestSchemaResolve(t *testing.T) {
	s := DefaultSchema()
	cfg := NewConfig()
	cfg.SetGlobalOption("debounce", "1s")
	cfg.SetGlobalOption("loop-limit", "12")
	cfg.SetCommandOption("run", "settle", "250ms")
	cfg.SetGlobalOption("max-depth", "deep")

	assert.Equal(t, time.Second, s.ResolveDuration(cfg, "", "debounce"))
	assert.Equal(t, 250*time.Millisecond, s.ResolveDuration(cfg, "run", "settle"))
	assert.Equal(t, 100*time.Millisecond, s.ResolveDuration(cfg, "rewind", "settle"))
	assert.Equal(t, 8, s.ResolveInt(cfg, "", "max-depth"), "unparseable values use the default")
	assert.False(t, s.ResolveBool(nil, "run", "json"))
	assert.Equal(t, "", s.Resolve(cfg, "", "unknown"))

	assert.Equal(t, 12, s.ResolveInt(cfg, "", "loop-limit"))
	t.Setenv("LIVEEVAL_LOOP_LIMIT", "99")
	assert.Equal(t, 99, s.ResolveInt(cfg, "", "loop-limit"), "environment wins")
}

func TestValidateType(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		typ   OptionType
		value string
		ok    bool
	}{
		{TypeString, "anything", true},
		{TypeBool, "on", true},
		{TypeBool, "maybe", false},
		{TypeInt, "42", true},
		{TypeInt, "4.2", false},
		{TypeDuration, "300ms", true},
		{TypeDuration, "300", false},
		{"mystery", "x", false},
	} {
		err := validateType(tc.typ, tc.value)
		assert.Equal(t, tc.ok, err == nil, "%s %q", tc.typ, tc.value)
	}
}

func TestFormatHelp(t *testing.T) {
	t.Parallel()

	help := DefaultSchema().FormatHelp()
	assert.True(t, strings.HasPrefix(help, "Global Options:\n"))
	assert.Contains(t, help, "store.capacity")
	assert.Contains(t, help, "default: 10000")
	assert.Contains(t, help, "env: LIVEEVAL_THEME")
	assert.Contains(t, help, "\n[run] Options:\n")
	assert.Less(t, strings.Index(help, "[rewind]"), strings.Index(help, "[run]"))
}
