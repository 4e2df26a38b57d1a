package vessel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemlab/internal/color"
)

var water = color.MustParse("#F0F8FF")

func TestVessel_AddReagentAccumulates(t *testing.T) {
	v := New("flask", water)

	require.True(t, v.AddReagent("hcl", 10))
	require.True(t, v.AddReagent("hcl", 5))
	require.True(t, v.AddReagent("phenol", 0.5))

	assert.Equal(t, 15.0, v.Amount("hcl"))
	assert.Equal(t, 15.5, v.TotalVolume())
	assert.Equal(t, []string{"hcl", "phenol"}, v.Reagents())
}

func TestVessel_AddReagentRejectsNonPositive(t *testing.T) {
	v := New("flask", water)

	assert.False(t, v.AddReagent("hcl", 0))
	assert.False(t, v.AddReagent("hcl", -3))
	assert.False(t, v.AddReagent("", 1))

	assert.True(t, v.Empty())
	assert.Equal(t, 0.0, v.TotalVolume())
}

func TestVessel_RemoveReagent(t *testing.T) {
	v := New("flask", water)
	v.AddReagent("naoh", 3)

	assert.True(t, v.RemoveReagent("naoh", 1))
	assert.Equal(t, 2.0, v.Amount("naoh"))

	assert.True(t, v.RemoveReagent("naoh", 10))
	assert.True(t, v.Empty())

	assert.False(t, v.RemoveReagent("naoh", 1))
	assert.False(t, v.RemoveReagent("never", 1))
}

func TestVessel_Clear(t *testing.T) {
	v := New("flask", water)
	v.AddReagent("hcl", 25)
	v.SetDisplayedColor(color.MustParse("#FFB6C1"))

	v.Clear()

	assert.True(t, v.Empty())
	assert.Equal(t, 0.0, v.TotalVolume())
	assert.Equal(t, water, v.DisplayedColor())
}

func TestVessel_ContentsIsACopy(t *testing.T) {
	v := New("flask", water)
	v.AddReagent("hcl", 1)

	c := v.Contents()
	c["hcl"] = 99

	assert.Equal(t, 1.0, v.Amount("hcl"))
}

func TestWorkbench_PlaceAndRemove(t *testing.T) {
	w := NewWorkbench()

	assert.True(t, w.Place("flask", KindVessel, water))
	assert.False(t, w.Place("flask", KindVessel, water), "second placement is a no-op")
	assert.True(t, w.Place("burette", KindDial, color.Transparent))
	assert.True(t, w.Place("stand", KindTool, color.Transparent))

	assert.Equal(t, []string{"burette", "flask", "stand"}, w.PlacedIDs())
	require.NotNil(t, w.Vessel("flask"))
	require.NotNil(t, w.Dial("burette"))
	assert.Nil(t, w.Vessel("stand"))

	w.Vessel("flask").AddReagent("hcl", 1)
	assert.True(t, w.Remove("flask"))
	assert.False(t, w.Placed("flask"))
	assert.Nil(t, w.Vessel("flask"))
	assert.False(t, w.Remove("flask"))

	w.Place("flask", KindVessel, water)
	assert.True(t, w.Vessel("flask").Empty(), "re-placed vessel starts empty")
}

func TestWorkbench_ClearAllAndReset(t *testing.T) {
	w := NewWorkbench()
	w.Place("flask", KindVessel, water)
	w.Place("burette", KindDial, color.Transparent)
	w.Vessel("flask").AddReagent("hcl", 25)
	w.Dial("burette").Adjust(12.5)
	w.Dial("burette").SetDisplayed(12.5)

	w.ClearAll()
	assert.True(t, w.Vessel("flask").Empty())
	assert.Equal(t, 0.0, w.Dial("burette").Reading())
	assert.Equal(t, 0.0, w.Dial("burette").Displayed())

	w.Reset()
	assert.Empty(t, w.PlacedIDs())
	assert.Empty(t, w.Vessels())
	assert.Empty(t, w.Dials())
}

func TestDial_AdjustFloorsAtZero(t *testing.T) {
	d := &Dial{ID: "burette"}
	assert.Equal(t, 0.5, d.Adjust(0.5))
	assert.Equal(t, 0.0, d.Adjust(-3))
}
