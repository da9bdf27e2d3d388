package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinePointEscaping(t *testing.T) {
	p := LinePoint{
		Measurement: "hive sensors",
		Tags:        []Tag{{Key: "device_name", Value: "north,row=2 b"}},
		Fields:      []Field{{Key: "weight", Value: 1.5}},
	}

	line := p.String()
	assert.Equal(t, `hive\ sensors,device_name=north\,row\=2\ b weight=1.5`, line)

	parsed, err := ParseLinePoint(line)
	require.NoError(t, err)
	assert.Equal(t, "hive sensors", parsed.Measurement)
	assert.Equal(t, "north,row=2 b", parsed.Tags[0].Value)
}

func TestParseLinePointSuffixesAndTimestamp(t *testing.T) {
	p, err := ParseLinePoint("hive_sensors,hive_id=h1 weight=42u,temperature=-1.25 1700000000000000000")
	require.NoError(t, err)

	assert.Equal(t, []Field{
		{Key: "weight", Value: 42, Unsigned: true},
		{Key: "temperature", Value: -1.25},
	}, p.Fields)
}

func TestParseLinePointRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"hive_sensors",
		"hive_sensors weight",
		"hive_sensors,hive_id weight=1",
		"hive_sensors weight=heavy",
		",hive_id=h1 weight=1",
	} {
		_, err := ParseLinePoint(line)
		assert.True(t, errors.Is(err, ErrInvalidLine), "line %q", line)
	}
}
