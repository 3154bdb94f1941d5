package rendition

import (
	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
)

// RenditionParamsForTest exposes renditionParams for tests in the external package.
func RenditionParamsForTest(
	name string,
	doc *document.Document,
) (string, commandline.Parameters, error) {
	return renditionParams(name, doc)
}
