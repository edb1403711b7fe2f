package utils_test

import (
	"testing"

	"github.com/cmcf/autoprocess/pkg/cmp"
	"github.com/cmcf/autoprocess/pkg/utils"
)

func TestMap(t *testing.T) {
	t.Run("Map maps slice to another", func(t *testing.T) {
		input := []int{3, 5, 7, 11}
		called := 0
		output := utils.Map(input, func(v int) int {
			called += 1
			return v * 2
		})

		if called != len(input) {
			t.Errorf("mapper has not been called enough. (actual, expected) = (%d, %d)", called, len(input))
		}
		if expected := []int{6, 10, 14, 22}; !cmp.SliceEq(output, expected) {
			t.Errorf("mapped result is wrong. (actual, expected) = (%v, %v)", output, expected)
		}
	})

	t.Run("Map of empty is empty", func(t *testing.T) {
		output := utils.Map([]string{}, func(s string) int { return len(s) })
		if output == nil || len(output) != 0 {
			t.Errorf("unexpected: %#v", output)
		}
	})
}
