//go:build windows

/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sentinel

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/windows"
)

// SO_DONTROUTE from winsock2.h.
const soDontRoute = 0x0010

func controlSocket(_, _ string, c syscall.RawConn) (err error) {
	controlErr := c.Control(func(fd uintptr) {
		if serr := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, soDontRoute, 1); serr != nil {
			err = fmt.Errorf("%w: %w", ErrDoNotRoute, serr)
			return
		}

		_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if controlErr != nil {
		err = controlErr
	}

	return err
}

func isMessageTooLarge(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE)
}
