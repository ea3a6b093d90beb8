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

import "errors"

var (
	// ErrInvalidInterface is returned when the bind address is not an IP address.
	ErrInvalidInterface = errors.New("invalid sentinel interface address")
	// ErrDoNotRoute is returned when the socket refuses the do-not-route option.
	ErrDoNotRoute = errors.New("failed to set do-not-route socket option")

	errContextClosed   = errors.New("completion context closed")
	errCompletionPanic = errors.New("completion handler panicked")
	errNoRemoteAddress = errors.New("completion carried no remote address")
)
