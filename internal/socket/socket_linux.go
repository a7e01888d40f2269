/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package socket

import (
	"golang.org/x/sys/unix"
)

// Accept takes one pending connection off fd. The new socket is non-blocking
// and close-on-exec.
func Accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if nil != err {
		return -1, nil, err
	}
	return nfd, sa, nil
}

// Writev calls writev() on Linux.
func Writev(fd int, iov [][]byte) (int, error) {
	switch len(iov) {
	case 0:
		return 0, nil
	case 1:
		return unix.Write(fd, iov[0])
	default:
		return unix.Writev(fd, iov)
	}
}
