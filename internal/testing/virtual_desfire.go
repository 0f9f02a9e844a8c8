// go-pn532-vault
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn532-vault.
//
// go-pn532-vault is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn532-vault is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn532-vault; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"sort"
	"sync"

	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
)

// Card side status codes, mirrored here to keep the simulator independent
// of the host implementation
const (
	stOK              byte = 0x00
	stIllegalCommand  byte = 0x1C
	stIntegrity       byte = 0x1E
	stNoSuchKey       byte = 0x40
	stLength          byte = 0x7E
	stPermission      byte = 0x9D
	stParameter       byte = 0x9E
	stAppNotFound     byte = 0xA0
	stAuthentication  byte = 0xAE
	stAdditionalFrame byte = 0xAF
	stBoundary        byte = 0xBE
	stDuplicate       byte = 0xDE
	stFileNotFound    byte = 0xF0
)

// chainedChunkLength is the largest data part of one response frame
const chainedChunkLength = 59

// DefaultDESFireVersion is a DESFire EV1 4K GetVersion payload
var DefaultDESFireVersion = []byte{
	0x04, 0x01, 0x01, 0x01, 0x00, 0x18, 0x05,
	0x04, 0x01, 0x01, 0x01, 0x04, 0x18, 0x05,
	0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
	0xBA, 0x34, 0xCD, 0x57, 0x10, 0x24, 0x19,
}

// TestDESFireUID is the UID reported by a default virtual DESFire card
var TestDESFireUID = []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

type virtualFile struct {
	data    []byte
	pending []byte
	access  [2]byte
	comm    byte
}

type virtualApp struct {
	files    map[byte]*virtualFile
	keys     [][]byte
	versions []byte
	keyType  crypt.KeyType
	settings byte
}

type cardSession struct {
	block   cipher.Block
	iv      []byte
	keyType crypt.KeyType
	keyNo   byte
}

func (s *cardSession) mac(msg []byte) []byte {
	s.iv = crypt.CMAC(s.block, s.iv, msg)
	return s.iv
}

type pendingAuth struct {
	block   cipher.Block
	rndB    []byte
	encRndB []byte
	keyType crypt.KeyType
	keyNo   byte
}

// VirtualDESFire simulates the card side of the DESFire EV1 native command
// set, including mutual authentication and secure messaging, so host code can
// be tested end to end without hardware.
type VirtualDESFire struct {
	apps        map[[3]byte]*virtualApp
	sess        *cardSession
	auth        *pendingAuth
	failures    map[byte]byte
	UID         []byte
	Version     []byte
	pendingOut  [][]byte
	commands    []byte
	TotalMemory uint32
	mu          sync.Mutex
	selected    [3]byte
	config      byte
}

// NewVirtualDESFire creates a factory fresh card: an empty PICC level with
// an all zero DES master key.
func NewVirtualDESFire(uid []byte) *VirtualDESFire {
	if uid == nil {
		uid = TestDESFireUID
	}
	v := &VirtualDESFire{
		UID:         append([]byte(nil), uid...),
		Version:     append([]byte(nil), DefaultDESFireVersion...),
		TotalMemory: 4096 - 256,
		failures:    make(map[byte]byte),
	}
	v.reset()
	return v
}

func (v *VirtualDESFire) reset() {
	v.apps = map[[3]byte]*virtualApp{
		{}: {
			keys:     [][]byte{make([]byte, 16)},
			versions: []byte{0},
			keyType:  crypt.KeyDES,
			settings: 0x0F,
			files:    map[byte]*virtualFile{},
		},
	}
	v.selected = [3]byte{}
	v.sess = nil
	v.auth = nil
}

// Activate models a field reset: the PICC level is selected again and any
// session or uncommitted backup data is lost.
func (v *VirtualDESFire) Activate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = [3]byte{}
	v.sess = nil
	v.auth = nil
	v.pendingOut = nil
	for _, app := range v.apps {
		for _, f := range app.files {
			f.pending = nil
		}
	}
}

// FailNext makes the next occurrence of cmd answer with status
func (v *VirtualDESFire) FailNext(cmd, status byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[cmd] = status
}

// Commands returns the command bytes received so far, continuation frames
// excluded
func (v *VirtualDESFire) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// Applications returns the AIDs present on the card, PICC level excluded
func (v *VirtualDESFire) Applications() [][3]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.appIDs()
}

// Key returns a copy of a key, or nil when the application or key is missing
func (v *VirtualDESFire) Key(aid [3]byte, keyNo int) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	app, ok := v.apps[aid]
	if !ok || keyNo >= len(app.keys) {
		return nil
	}
	return append([]byte(nil), app.keys[keyNo]...)
}

// FileData returns the committed content of a file
func (v *VirtualDESFire) FileData(aid [3]byte, fileNo byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	app, ok := v.apps[aid]
	if !ok {
		return nil
	}
	f, ok := app.files[fileNo]
	if !ok {
		return nil
	}
	return append([]byte(nil), f.data...)
}

// Configuration returns the last PICC configuration byte written
func (v *VirtualDESFire) Configuration() byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.config
}

// Provision installs an application with AES keys and an enciphered backup
// file, as a card would look after vault provisioning.
func (v *VirtualDESFire) Provision(aid [3]byte, masterKey, readKey, content []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.apps[aid] = &virtualApp{
		keys:     [][]byte{append([]byte(nil), masterKey...), append([]byte(nil), readKey...)},
		versions: []byte{0, 0},
		keyType:  crypt.KeyAES,
		settings: 0x0F,
		files: map[byte]*virtualFile{
			0: {data: append([]byte(nil), content...), access: [2]byte{0x00, 0x10}, comm: 0x03},
		},
	}
}

func (v *VirtualDESFire) appIDs() [][3]byte {
	aids := make([][3]byte, 0, len(v.apps))
	for aid := range v.apps {
		if aid != ([3]byte{}) {
			aids = append(aids, aid)
		}
	}
	sort.Slice(aids, func(i, j int) bool { return bytes.Compare(aids[i][:], aids[j][:]) < 0 })
	return aids
}

func (v *VirtualDESFire) usedMemory() uint32 {
	var used uint32
	for aid, app := range v.apps {
		if aid == ([3]byte{}) {
			continue
		}
		used += 256
		for _, f := range app.files {
			used += uint32(len(f.data)+31) / 32 * 32 * 2
		}
	}
	return used
}

// Transceive processes one native frame and returns the card's answer
func (v *VirtualDESFire) Transceive(frame []byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(frame) == 0 {
		return []byte{stLength}
	}
	cmd := frame[0]
	if cmd == stAdditionalFrame {
		switch {
		case v.auth != nil:
			return v.finishAuth(frame[1:])
		case len(v.pendingOut) > 0:
			return v.nextChunk()
		default:
			return v.fail(stIllegalCommand)
		}
	}

	v.commands = append(v.commands, cmd)
	v.pendingOut = nil
	v.auth = nil
	if status, ok := v.failures[cmd]; ok {
		delete(v.failures, cmd)
		return v.fail(status)
	}

	params := frame[1:]
	switch cmd {
	case 0x1A, 0xAA:
		return v.startAuth(cmd, params)
	case 0x5A:
		return v.selectApplication(params)
	case 0xC4:
		return v.changeKey(params)
	case 0x3D:
		return v.writeData(params)
	case 0x5C:
		return v.setConfiguration(params)
	}

	// remaining commands are plain on the way in
	if v.sess != nil {
		v.sess.mac(frame)
	}
	switch cmd {
	case 0x60:
		return v.respond(v.Version, 7, 7)
	case 0x6A:
		if v.selected != ([3]byte{}) {
			return v.fail(stPermission)
		}
		var out []byte
		for _, aid := range v.appIDs() {
			out = append(out, aid[:]...)
		}
		return v.respond(out)
	case 0x6E:
		free := v.TotalMemory - v.usedMemory()
		return v.respond([]byte{byte(free), byte(free >> 8), byte(free >> 16)})
	case 0xFC:
		if v.selected != ([3]byte{}) || v.sess == nil || v.sess.keyNo != 0 {
			return v.fail(stPermission)
		}
		sess := v.sess
		v.reset()
		v.sess = sess
		return v.respond(nil)
	case 0xCA:
		return v.createApplication(params)
	case 0xCB:
		return v.createBackupDataFile(params)
	case 0xBD:
		return v.readData(params)
	case 0xC7:
		app := v.apps[v.selected]
		for _, f := range app.files {
			if f.pending != nil {
				f.data, f.pending = f.pending, nil
			}
		}
		return v.respond(nil)
	default:
		return v.fail(stIllegalCommand)
	}
}

func (v *VirtualDESFire) fail(status byte) []byte {
	v.sess = nil
	v.auth = nil
	v.pendingOut = nil
	return []byte{status}
}

// respond answers OK with data, MACed under a session and split into chunks
// of the given sizes, or of the default chunk length.
func (v *VirtualDESFire) respond(data []byte, sizes ...int) []byte {
	out := append([]byte(nil), data...)
	if v.sess != nil {
		mac := v.sess.mac(append(append([]byte(nil), out...), stOK))
		out = append(out, mac[:8]...)
	}
	var chunks [][]byte
	for _, n := range sizes {
		if n >= len(out) {
			break
		}
		chunks = append(chunks, out[:n])
		out = out[n:]
	}
	for len(out) > chainedChunkLength {
		chunks = append(chunks, out[:chainedChunkLength])
		out = out[chainedChunkLength:]
	}
	chunks = append(chunks, out)
	v.pendingOut = chunks
	return v.nextChunk()
}

func (v *VirtualDESFire) nextChunk() []byte {
	chunk := v.pendingOut[0]
	v.pendingOut = v.pendingOut[1:]
	status := stOK
	if len(v.pendingOut) > 0 {
		status = stAdditionalFrame
	}
	return append([]byte{status}, chunk...)
}

func (v *VirtualDESFire) startAuth(cmd byte, params []byte) []byte {
	v.sess = nil
	if len(params) != 1 {
		return v.fail(stLength)
	}
	app := v.apps[v.selected]
	keyNo := params[0]
	if int(keyNo) >= len(app.keys) {
		return v.fail(stNoSuchKey)
	}
	aes := app.keyType == crypt.KeyAES
	if (cmd == 0xAA) != aes {
		return v.fail(stAuthentication)
	}
	keyType := app.keyType
	if !aes {
		keyType = crypt.ClassifyISOKey(app.keys[keyNo])
	}
	block, err := crypt.NewBlock(keyType, app.keys[keyNo])
	if err != nil {
		return v.fail(stIntegrity)
	}
	size := block.BlockSize()
	rndB := make([]byte, size)
	_, _ = rand.Read(rndB)
	encRndB := crypt.EncryptCBC(block, make([]byte, size), rndB)
	v.auth = &pendingAuth{block: block, rndB: rndB, encRndB: encRndB, keyType: keyType, keyNo: keyNo}
	return append([]byte{stAdditionalFrame}, encRndB...)
}

func (v *VirtualDESFire) finishAuth(encToken []byte) []byte {
	a := v.auth
	v.auth = nil
	size := a.block.BlockSize()
	if len(encToken) != 2*size {
		return v.fail(stLength)
	}
	token := crypt.DecryptCBC(a.block, a.encRndB, encToken)
	rndA := token[:size]
	if !bytes.Equal(token[size:], crypt.RotateLeft(a.rndB)) {
		return v.fail(stAuthentication)
	}
	encRndA := crypt.EncryptCBC(a.block, crypt.LastBlock(encToken, size), crypt.RotateLeft(rndA))

	sessionType, sessionKey := crypt.SessionKey(a.keyType, rndA, a.rndB)
	block, err := crypt.NewBlock(sessionType, sessionKey)
	if err != nil {
		return v.fail(stIntegrity)
	}
	v.sess = &cardSession{block: block, iv: make([]byte, block.BlockSize()), keyType: sessionType, keyNo: a.keyNo}
	return append([]byte{stOK}, encRndA...)
}

func (v *VirtualDESFire) selectApplication(params []byte) []byte {
	v.sess = nil
	if len(params) != 3 {
		return v.fail(stLength)
	}
	aid := [3]byte{params[0], params[1], params[2]}
	if _, ok := v.apps[aid]; !ok {
		return v.fail(stAppNotFound)
	}
	v.selected = aid
	return []byte{stOK}
}

// decipher decrypts an enciphered command payload with the session IV
func (v *VirtualDESFire) decipher(enc []byte) ([]byte, bool) {
	if v.sess == nil {
		return nil, false
	}
	size := v.sess.block.BlockSize()
	if len(enc) == 0 || len(enc)%size != 0 {
		return nil, false
	}
	plain := crypt.DecryptCBC(v.sess.block, v.sess.iv, enc)
	v.sess.iv = crypt.LastBlock(enc, size)
	return plain, true
}

func (v *VirtualDESFire) setConfiguration(params []byte) []byte {
	if v.selected != ([3]byte{}) || v.sess == nil || v.sess.keyNo != 0 {
		return v.fail(stPermission)
	}
	if len(params) < 1 || params[0] != 0x00 {
		return v.fail(stParameter)
	}
	plain, ok := v.decipher(params[1:])
	if !ok || len(plain) < 5 {
		return v.fail(stIntegrity)
	}
	crcInput := []byte{0x5C, 0x00, plain[0]}
	if !bytes.Equal(plain[1:5], crypt.CRC32(crcInput)) {
		return v.fail(stIntegrity)
	}
	v.config = plain[0]
	return v.respond(nil)
}

func (v *VirtualDESFire) createApplication(params []byte) []byte {
	if v.selected != ([3]byte{}) {
		return v.fail(stPermission)
	}
	if len(params) != 5 {
		return v.fail(stLength)
	}
	aid := [3]byte{params[0], params[1], params[2]}
	if _, exists := v.apps[aid]; exists {
		return v.fail(stDuplicate)
	}
	numKeys := int(params[4] & 0x0F)
	if numKeys == 0 || numKeys > 14 {
		return v.fail(stParameter)
	}
	keyType := crypt.KeyDES
	if params[4]&0x80 != 0 {
		keyType = crypt.KeyAES
	}
	app := &virtualApp{
		keys:     make([][]byte, numKeys),
		versions: make([]byte, numKeys),
		keyType:  keyType,
		settings: params[3],
		files:    map[byte]*virtualFile{},
	}
	for i := range app.keys {
		app.keys[i] = make([]byte, 16)
	}
	v.apps[aid] = app
	return v.respond(nil)
}

func (v *VirtualDESFire) createBackupDataFile(params []byte) []byte {
	if v.selected == ([3]byte{}) {
		return v.fail(stPermission)
	}
	if v.sess == nil || v.sess.keyNo != 0 {
		return v.fail(stPermission)
	}
	if len(params) != 7 {
		return v.fail(stLength)
	}
	app := v.apps[v.selected]
	if _, exists := app.files[params[0]]; exists {
		return v.fail(stDuplicate)
	}
	size := int(params[4]) | int(params[5])<<8 | int(params[6])<<16
	app.files[params[0]] = &virtualFile{
		data:   make([]byte, size),
		comm:   params[1],
		access: [2]byte{params[2], params[3]},
	}
	return v.respond(nil)
}

// accessKey returns the key number for an access nibble shift of the file
func (f *virtualFile) accessKey(shift uint) byte {
	rights := uint16(f.access[0]) | uint16(f.access[1])<<8
	return byte(rights>>shift) & 0x0F
}

func (v *VirtualDESFire) allowed(f *virtualFile, shift uint) bool {
	key := f.accessKey(shift)
	rw := f.accessKey(4)
	if key == 0x0E || rw == 0x0E {
		return true
	}
	return v.sess != nil && (v.sess.keyNo == key || v.sess.keyNo == rw)
}

func (v *VirtualDESFire) lookupFile(fileNo byte) (*virtualFile, bool) {
	app := v.apps[v.selected]
	f, ok := app.files[fileNo]
	return f, ok
}

func (v *VirtualDESFire) writeData(params []byte) []byte {
	if len(params) < 8 {
		return v.fail(stLength)
	}
	header := params[:7]
	f, ok := v.lookupFile(header[0])
	if !ok {
		return v.fail(stFileNotFound)
	}
	if !v.allowed(f, 8) {
		return v.fail(stPermission)
	}
	offset := int(header[1]) | int(header[2])<<8 | int(header[3])<<16
	length := int(header[4]) | int(header[5])<<8 | int(header[6])<<16

	var data []byte
	if f.comm == 0x03 {
		plain, ok := v.decipher(params[7:])
		if !ok || len(plain) < length+4 {
			return v.fail(stIntegrity)
		}
		data = plain[:length]
		crcInput := append(append([]byte{0x3D}, header...), data...)
		if !bytes.Equal(plain[length:length+4], crypt.CRC32(crcInput)) {
			return v.fail(stIntegrity)
		}
	} else {
		if v.sess != nil {
			v.sess.mac(append([]byte{0x3D}, params...))
		}
		data = params[7:]
		if len(data) != length {
			return v.fail(stLength)
		}
	}
	if offset+length > len(f.data) {
		return v.fail(stBoundary)
	}
	if f.pending == nil {
		f.pending = append([]byte(nil), f.data...)
	}
	copy(f.pending[offset:], data)
	return v.respond(nil)
}

func (v *VirtualDESFire) readData(params []byte) []byte {
	if len(params) != 7 {
		return v.fail(stLength)
	}
	f, ok := v.lookupFile(params[0])
	if !ok {
		return v.fail(stFileNotFound)
	}
	if !v.allowed(f, 12) {
		return v.fail(stPermission)
	}
	offset := int(params[1]) | int(params[2])<<8 | int(params[3])<<16
	length := int(params[4]) | int(params[5])<<8 | int(params[6])<<16
	if length == 0 {
		length = len(f.data) - offset
	}
	if offset+length > len(f.data) {
		return v.fail(stBoundary)
	}
	data := append([]byte(nil), f.data[offset:offset+length]...)
	if f.comm != 0x03 {
		return v.respond(data)
	}

	if v.sess == nil {
		return v.fail(stPermission)
	}
	size := v.sess.block.BlockSize()
	plain := append(append([]byte(nil), data...), crypt.CRC32(data, []byte{stOK})...)
	plain = crypt.PadZero(plain, size)
	enc := crypt.EncryptCBC(v.sess.block, v.sess.iv, plain)
	v.sess.iv = crypt.LastBlock(enc, size)
	v.pendingOut = [][]byte{enc}
	return v.nextChunk()
}

func (v *VirtualDESFire) changeKey(params []byte) []byte {
	if len(params) < 2 {
		return v.fail(stLength)
	}
	app := v.apps[v.selected]
	keyNo := params[0] & 0x0F
	if int(keyNo) >= len(app.keys) {
		return v.fail(stNoSuchKey)
	}
	if v.sess == nil || (v.sess.keyNo != 0 && v.sess.keyNo != keyNo) {
		return v.fail(stPermission)
	}
	same := v.sess.keyNo == keyNo
	plain, ok := v.decipher(params[1:])
	if !ok {
		return v.fail(stIntegrity)
	}

	cryptoLen := 16
	if app.keyType == crypt.KeyAES {
		cryptoLen = 17
	}
	need := cryptoLen + 4
	if !same {
		need += 4
	}
	if len(plain) < need {
		return v.fail(stLength)
	}
	cryptogram := plain[:cryptoLen]
	crcInput := append([]byte{0xC4, params[0]}, cryptogram...)
	if !bytes.Equal(plain[cryptoLen:cryptoLen+4], crypt.CRC32(crcInput)) {
		return v.fail(stIntegrity)
	}

	newKey := append([]byte(nil), cryptogram[:16]...)
	if !same {
		newKey = crypt.XOR(newKey, app.keys[keyNo])
		if !bytes.Equal(plain[cryptoLen+4:cryptoLen+8], crypt.CRC32(newKey)) {
			return v.fail(stIntegrity)
		}
	}
	app.keys[keyNo] = newKey
	if app.keyType == crypt.KeyAES {
		app.versions[keyNo] = cryptogram[16]
	}

	if same {
		v.sess = nil
		return []byte{stOK}
	}
	return v.respond(nil)
}

// FreeMemoryBytes reports the free memory the card currently advertises
func (v *VirtualDESFire) FreeMemoryBytes() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.TotalMemory - v.usedMemory()
}
