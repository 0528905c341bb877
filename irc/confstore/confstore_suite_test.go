package confstore_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestConfstore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "confstore suite")
}
