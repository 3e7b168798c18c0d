package cryptosqlite

import "strings"

const (
	journalSuffix = "-journal"
	walSuffix     = "-wal"

	// walFrameHeaderSize precedes every page image in a WAL file
	walFrameHeaderSize = 24

	// auxPositionTag marks nonce positions of journal and WAL page images so
	// they never collide with database page numbers
	auxPositionTag = uint64(1) << 63
)

// journalMagic opens every rollback journal header
var journalMagic = []byte{0xd9, 0xd5, 0x05, 0xf9, 0x20, 0xa1, 0x63, 0xd7}

// fileRole is what an opened file is to the database engine
type fileRole uint8

const (
	roleOther fileRole = iota
	roleMainDB
	roleMainJournal
	roleWAL
	roleTempDB
	roleTempJournal
	roleSubJournal
	roleSuperJournal
	roleTransientDB
)

func (r fileRole) String() string {
	switch r {
	case roleMainDB:
		return "main-db"
	case roleMainJournal:
		return "main-journal"
	case roleWAL:
		return "wal"
	case roleTempDB:
		return "temp-db"
	case roleTempJournal:
		return "temp-journal"
	case roleSubJournal:
		return "sub-journal"
	case roleSuperJournal:
		return "super-journal"
	case roleTransientDB:
		return "transient-db"
	default:
		return "other"
	}
}

// auxiliary reports whether the role shares its main database's engine
func (r fileRole) auxiliary() bool {
	return r == roleMainJournal || r == roleWAL
}

// classifyOpen maps open flags to a file role
func classifyOpen(flags OpenFlag) fileRole {
	switch {
	case flags&OpenMainDB != 0:
		return roleMainDB
	case flags&OpenMainJournal != 0:
		return roleMainJournal
	case flags&OpenWAL != 0:
		return roleWAL
	case flags&OpenTempDB != 0:
		return roleTempDB
	case flags&OpenTempJournal != 0:
		return roleTempJournal
	case flags&OpenSubJournal != 0:
		return roleSubJournal
	case flags&OpenSuperJournal != 0:
		return roleSuperJournal
	case flags&OpenTransientDB != 0:
		return roleTransientDB
	default:
		return roleOther
	}
}

// mainDatabasePath returns the database a journal or WAL belongs to
func mainDatabasePath(auxPath string, role fileRole) (string, bool) {
	switch role {
	case roleMainJournal:
		return strings.CutSuffix(auxPath, journalSuffix)
	case roleWAL:
		return strings.CutSuffix(auxPath, walSuffix)
	default:
		return "", false
	}
}

// auxPosition is the nonce position of a page image at off in a journal or WAL
func auxPosition(off int64) uint64 {
	return uint64(off) | auxPositionTag
}
