package bootctl

import "errors"

// errNoFlashReader indicates the configured flash.Device cannot be read
// back for verification.
var errNoFlashReader = errors.New("bootctl: flash device does not support reading back the firmware region")
