package testcase_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// Runs the compliance scenarios against the simulated controller using the
// Ginkgo testing framework.
func TestTestcase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testcase Suite")
}
