package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNQuadTriple(t *testing.T) {
	statement, err := ParseNQuad(`<http://example.org/s> <http://example.org/p> <http://example.org/o> .`)
	require.NoError(t, err)

	assert.Equal(t, TermIRI, statement.Subject.Kind)
	assert.Equal(t, "http://example.org/s", statement.Subject.Value)
	assert.Equal(t, "http://example.org/p", statement.Predicate.Value)
	assert.Equal(t, "http://example.org/o", statement.Object.Value)
	assert.Nil(t, statement.Graph)
}

func TestParseNQuadLangLiteralWithGraph(t *testing.T) {
	statement, err := ParseNQuad(`<http://example.org/s> <http://example.org/p> "hola"@es <http://example.org/g> .`)
	require.NoError(t, err)

	require.True(t, statement.Object.IsLiteral())
	assert.Equal(t, "hola", statement.Object.Value)
	assert.Equal(t, "es", statement.Object.Language)
	assert.Empty(t, statement.Object.Datatype)
	require.NotNil(t, statement.Graph)
	assert.Equal(t, "http://example.org/g", statement.Graph.Value)
}

func TestParseNQuadTypedLiteral(t *testing.T) {
	statement, err := ParseNQuad(`<http://example.org/s> <http://example.org/age> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .`)
	require.NoError(t, err)

	assert.Equal(t, "42", statement.Object.Value)
	assert.Equal(t, XSDPrefix+"integer", statement.Object.Datatype)
	assert.Equal(t, "integer", statement.Object.DatatypeToken())
}

func TestParseNQuadBlankNodes(t *testing.T) {
	statement, err := ParseNQuad(`_:b0 <http://example.org/p> "v" _:g1 .`)
	require.NoError(t, err)

	assert.True(t, statement.Subject.IsBlank())
	assert.Equal(t, "b0", statement.Subject.Value)
	require.NotNil(t, statement.Graph)
	assert.True(t, statement.Graph.IsBlank())
}

func TestParseNQuadEscapes(t *testing.T) {
	statement, err := ParseNQuad(`<http://example.org/s> <http://example.org/p> "line\nbreak \"quoted\" é" .`)
	require.NoError(t, err)

	assert.Equal(t, "line\nbreak \"quoted\" é", statement.Object.Value)
}

func TestParseNQuadErrors(t *testing.T) {
	tests := []struct {
		name string
		stmt string
	}{
		{name: "Empty", stmt: ""},
		{name: "LiteralSubject", stmt: `"s" <http://example.org/p> "o" .`},
		{name: "BlankPredicate", stmt: `<http://example.org/s> _:p "o" .`},
		{name: "MissingDot", stmt: `<http://example.org/s> <http://example.org/p> "o"`},
		{name: "TrailingGarbage", stmt: `<http://example.org/s> <http://example.org/p> "o" . extra`},
		{name: "UnterminatedLiteral", stmt: `<http://example.org/s> <http://example.org/p> "o .`},
		{name: "UnterminatedIRI", stmt: `<http://example.org/s <http://example.org/p> "o" .`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNQuad(tt.stmt)
			require.Error(t, err)
			var parseErr *ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestDatatypeToken(t *testing.T) {
	assert.Equal(t, "string", Term{Kind: TermLiteral}.DatatypeToken())
	assert.Equal(t, "double", Term{Kind: TermLiteral, Datatype: XSDPrefix + "double"}.DatatypeToken())
	assert.Equal(t, "string", Term{Kind: TermLiteral, Datatype: "http://example.org/custom"}.DatatypeToken())
}
