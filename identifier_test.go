package testid_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thrawn01/testid"
)

func TestGenerateID(t *testing.T) {
	tests := []struct {
		tagName  string
		suffix   string
		expected string
	}{
		{tagName: "CustomInput", suffix: "test", expected: "custom-input-test"},
		{tagName: "div", suffix: "test", expected: "div-test"},
		{tagName: "h1", suffix: "test", expected: "h1-test"},
		{tagName: "Button", suffix: "qa", expected: "button-qa"},
		{tagName: "MyComponent", suffix: "test", expected: "my-component-test"},
		{tagName: "my-element", suffix: "test", expected: "my-element-test"},
		{tagName: "Form.Item", suffix: "test", expected: "form-item-test"},
		{tagName: "svg:rect", suffix: "test", expected: "svg-rect-test"},
		{tagName: "div", suffix: "", expected: "div"},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%s/%s", test.tagName, test.suffix), func(t *testing.T) {
			assert.Equal(t, test.expected, testid.GenerateID(test.tagName, test.suffix))
			assert.Equal(t, test.expected, testid.GenerateID(test.tagName, test.suffix))
		})
	}
}

func TestLedgerResolve(t *testing.T) {
	t.Run("FirstIsBase", func(t *testing.T) {
		ledger := testid.Ledger{}
		assert.Equal(t, "li-test", ledger.Resolve("li-test"))
		assert.Equal(t, "li-test-1", ledger.Resolve("li-test"))
		assert.Equal(t, "li-test-2", ledger.Resolve("li-test"))
	})

	t.Run("PairwiseDistinct", func(t *testing.T) {
		ledger := testid.Ledger{}
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := ledger.Resolve("row-test")
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("RespectsPreexisting", func(t *testing.T) {
		ledger := testid.NewLedger([]testid.TagMatch{
			{AnnotationValue: "li-test"},
			{AnnotationValue: "li-test-1"},
			{HasAnnotation: true, AnnotationValue: ""},
		})
		assert.Equal(t, "li-test-2", ledger.Resolve("li-test"))
		assert.Equal(t, 0, ledger.Count(""))
	})

	t.Run("ReleaseLetsOwnerKeepValue", func(t *testing.T) {
		ledger := testid.NewLedger([]testid.TagMatch{{AnnotationValue: "save"}})
		ledger.Release("save")
		assert.Equal(t, 0, ledger.Count("save"))
		assert.Equal(t, "save", ledger.Resolve("save"))
	})

	t.Run("ReleaseDecrementsDuplicates", func(t *testing.T) {
		ledger := testid.NewLedger([]testid.TagMatch{{AnnotationValue: "x"}, {AnnotationValue: "x"}})
		assert.Equal(t, 2, ledger.Count("x"))
		ledger.Release("x")
		assert.Equal(t, 1, ledger.Count("x"))
		ledger.Release("unknown")
		ledger.Release("")
		assert.Len(t, ledger, 1)
	})
}
