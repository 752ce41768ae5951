package queryengine

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"
)

// processID is minted once per process and embedded in every User-Agent
// header this process sends, so server-side logs can correlate requests
// from one client instance without leaking any stable machine identity.
var processID = uuid.NewString()

// BuildUserAgent renders a User-Agent value of the form
// "product/version (uuid) (compiler goversion; os/arch)", following the product
// token/comment layering of RFC 7231 §5.5.3.
func BuildUserAgent(product, version string) string {
	return fmt.Sprintf(
		"%s/%s (%s) (%s %s; %s)",
		product, version, processID, runtime.Compiler, runtime.Version(), runtime.GOOS+"/"+runtime.GOARCH,
	)
}
