package firmware

import "errors"

// ErrIncompatibleFWOffset indicates a parsed Header.ImageOffset does not
// match the layout's expected offset.
var ErrIncompatibleFWOffset = errors.New("firmware: incompatible image offset")

// ErrFWExceedsFlash indicates a parsed Header describes an image that
// would not fit within the device's flash.
var ErrFWExceedsFlash = errors.New("firmware: image exceeds flash size")
