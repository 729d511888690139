package signing

import "strings"

// Helper script exit codes, part of the IPC contract.
const (
	ExitExtraction = 1
	ExitSigning    = 2
	ExitProtocol   = 3
)

// ContainerSocketPath is where the signing socket is bind-mounted
// inside SDK containers.
const ContainerSocketPath = "/opt/_avocado/signing.sock"

// HelperScript renders the POSIX sh client installed into the container
// as avocado-sign. It sends one newline-framed request and maps the
// response onto the documented exit codes.
func HelperScript(socketPath string) string {
	return strings.ReplaceAll(helperTemplate, "@SOCKET@", socketPath)
}

const helperTemplate = `#!/bin/sh
# avocado-sign <binary-path> [checksum-algorithm]
# Asks the host signing service to sign a file in the shared volume.
set -u

if [ $# -lt 1 ]; then
    echo "usage: avocado-sign <binary-path> [sha256|blake3]" >&2
    exit 3
fi

BINARY_PATH="$1"
ALGO="${2:-sha256}"
SOCKET="@SOCKET@"

REQ=$(printf '{"type":"sign_request","binary_path":"%s","checksum_algorithm":"%s"}' "$BINARY_PATH" "$ALGO")

if command -v socat >/dev/null 2>&1; then
    RESP=$(printf '%s\n' "$REQ" | socat -t 300 - UNIX-CONNECT:"$SOCKET")
elif command -v python3 >/dev/null 2>&1; then
    RESP=$(python3 - "$SOCKET" "$REQ" <<'PYEOF'
import socket, sys
s = socket.socket(socket.AF_UNIX)
s.connect(sys.argv[1])
s.sendall((sys.argv[2] + "\n").encode())
buf = b""
while not buf.endswith(b"\n"):
    chunk = s.recv(65536)
    if not chunk:
        break
    buf += chunk
sys.stdout.write(buf.decode())
PYEOF
)
else
    echo "avocado-sign: need socat or python3 to reach the signing socket" >&2
    exit 3
fi

if [ -z "$RESP" ]; then
    echo "avocado-sign: empty response from signing service" >&2
    exit 3
fi

case "$RESP" in
    *'"success":true'*|*'"success": true'*)
        echo "avocado-sign: signed $BINARY_PATH"
        exit 0
        ;;
    *'extraction failed'*)
        echo "avocado-sign: $RESP" >&2
        exit 1
        ;;
    *'signing failed'*)
        echo "avocado-sign: $RESP" >&2
        exit 2
        ;;
    *)
        echo "avocado-sign: $RESP" >&2
        exit 3
        ;;
esac
`
