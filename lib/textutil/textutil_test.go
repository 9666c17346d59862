package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	require.Equal(t, "kittens club", Fold("  Kittens\n\tClub "))
	require.Equal(t, "кошки и котики", Fold("КОШКИ  и Котики"))
	require.Equal(t, "", Fold(" \n "))
	require.Equal(t, "plain", Fold("plain"))
}
