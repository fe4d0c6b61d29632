package upstream

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadURL builds a direct fbdownload link the browser can follow without
// going through the gateway. The file path travels hex-encoded in the dlink
// parameter, and the session pair rides along as _sid/SynoToken so the NAS
// accepts the request.
func (c *Client) DownloadURL(auth Auth, filePath string) string {
	if !strings.HasPrefix(filePath, "/") {
		filePath = "/" + filePath
	}

	hexPath := hex.EncodeToString([]byte(filePath))
	fileName := filePath[strings.LastIndex(filePath, "/")+1:]
	hostBase := strings.TrimSuffix(c.baseURL, "/webapi/entry.cgi")

	return fmt.Sprintf(
		"%s/fbdownload/%s?dlink=%%22%s%%22&noCache=%s&mode=download&stdhtml=false&_sid=%s&SynoToken=%s",
		hostBase,
		fileName,
		hexPath,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		auth.SID,
		auth.SynoToken,
	)
}
