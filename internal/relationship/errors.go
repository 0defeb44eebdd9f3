package relationship

import "errors"

var ErrAlreadyRelated = errors.New("users are already mates")
