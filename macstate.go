package zipfile

import (
	"runtime"
	"weak"
)

// macKind is the archive's position in the Mac-dialect inference state machine.
//
// The three settled states are disjoint, and transitions are monotone: macMaybe may move to macYes or macNo exactly
// once; macYes and macNo never change again. macUnknown exists only while the anchor is still resolving.
type macKind int

const (
	macUnknown macKind = iota
	macNo
	macMaybe
	macYes
)

// macState is the inference state plus the registry of live entries whose uncompressed size is still in question.
//
// Entries are held weakly so that records the caller dropped do not linger in the registry; a cleanup removes the
// key once the entry is collected. The registry is drained exactly once, when the Mac question is settled.
type macState struct {
	kind      macKind
	uncertain map[weak.Pointer[Entry]]struct{}
}

// trackUncertain registers an entry whose uncompressed size may yet grow. Callers hold a.mu.
func (a *Archive) trackUncertain(e *Entry) {
	if a.mac.kind != macMaybe && a.mac.kind != macYes {
		return
	}

	if a.mac.uncertain == nil {
		a.mac.uncertain = make(map[weak.Pointer[Entry]]struct{})
	}

	wp := weak.Make(e)
	e.tracked = true
	a.mac.uncertain[wp] = struct{}{}
	runtime.AddCleanup(e, func(wp weak.Pointer[Entry]) {
		a.mu.Lock()
		delete(a.mac.uncertain, wp)
		a.mu.Unlock()
	}, wp)
}

// settleUncompressedSize marks the entry's size final and drops it from the registry. Callers hold a.mu.
func (a *Archive) settleUncompressedSize(e *Entry) {
	e.uncompressedSizeCertain = true
	if e.tracked {
		e.tracked = false
		for wp := range a.mac.uncertain {
			if wp.Value() == e {
				delete(a.mac.uncertain, wp)
				break
			}
		}
	}
}

// setAsMacArchive promotes the archive to definitely-Mac and finalizes the directory claims: the central directory
// always packs right up to the footer, and the entry count is raised in 65536 steps until that many records, none
// larger than cdhMaxLenMac bytes, could fill the directory. Callers hold a.mu.
func (a *Archive) setAsMacArchive() {
	if a.mac.kind == macYes {
		return
	}

	a.mac.kind = macYes
	a.cdSize = a.footerOffset - a.cdOffset
	a.cdSizeCertain = true
	a.raiseEntryCountToMin()
	a.entryCountCertain = (a.entryCount+65536)*cdhLen > a.cdSize

	// a file more than 4 GiB bigger than stated fits only when the data area leaves room for it.
	if a.fileCursor >= 0 {
		minSoFar := a.fileCursor + (a.entryCount-a.entriesRead)*lfhLen
		if minSoFar+1<<32 <= a.cdOffset {
			a.compressedSizesCertain = false
		}
	}

	// sizes already flagged on individual entries stay uncertain; the streaming validator grows them on
	// overflow. The registry itself is no longer needed.
	a.mac.uncertain = nil
}

// setAsNotMacArchive settles the archive as spec-compliant: every claim from the footer was truthful, so all
// certainty flags become final and every registered entry's uncompressed size is confirmed. Callers hold a.mu.
func (a *Archive) setAsNotMacArchive() {
	if a.mac.kind == macNo {
		return
	}

	a.mac.kind = macNo
	a.cdSizeCertain = true
	a.entryCountCertain = true
	a.compressedSizesCertain = true
	a.uncompressedSizesCertain = true
	a.fileCursor = -1

	for wp := range a.mac.uncertain {
		if e := wp.Value(); e != nil {
			e.uncompressedSizeCertain = true
			e.tracked = false
		}
	}
	a.mac.uncertain = nil
}

// raiseEntryCountToMin lifts the entry count by the smallest multiple of 65536 that makes it physically possible
// for the central directory size, given that no Archive Utility record exceeds cdhMaxLenMac bytes.
func (a *Archive) raiseEntryCountToMin() {
	minCount := (a.cdSize + cdhMaxLenMac - 1) / cdhMaxLenMac
	if a.entryCount < minCount {
		a.entryCount += (minCount - a.entryCount + 65535) / 65536 * 65536
	}
}
