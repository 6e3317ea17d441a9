package htmlutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectionText(t *testing.T) {
	doc, err := ParseDocument(context.Background(), []byte(`<html><body>
		<div class="name">  Gennady
			Korotkevich </div>
		<script>var secret = "hidden";</script>
		<p>Problem Solved<span>42</span></p>
	</body></html>`))
	require.NoError(t, err)

	require.Equal(t, "Gennady Korotkevich", SelectionText(doc.Find(".name")))

	body := SelectionText(doc.Find("body"))
	require.NotContains(t, body, "hidden")
	require.Contains(t, body, "Problem Solved 42")
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b c", CleanText("\ta \n\n b\u0000 c  "))
}
