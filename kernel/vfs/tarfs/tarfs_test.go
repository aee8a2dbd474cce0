package tarfs

import (
	"testing"

	"nyx/kernel/vfs"
)

func blankHeader() []byte {
	h := make([]byte, blockSize)
	copy(h[chksumOffset:chksumOffset+chksumSize], "        ")
	return h
}

func TestActualChecksumOfBlankHeaderIsAllSpaces(t *testing.T) {
	h := blankHeader()
	want := uint32(256) // eight spaces (8 * 0x20); every other byte is zero
	if got := ActualChecksum(h); got != want {
		t.Fatalf("ActualChecksum = %d, want %d", got, want)
	}
}

func TestActualChecksumReflectsOtherFieldChanges(t *testing.T) {
	h := blankHeader()
	h[typeOffset] = '0'
	want := uint32(256) + 0x30
	if got := ActualChecksum(h); got != want {
		t.Fatalf("ActualChecksum = %d, want %d", got, want)
	}
}

func putOctal(field []byte, v uint64) {
	s := []byte("0000000\x00")
	for i := len(s) - 2; i >= 0; i-- {
		s[i] = byte('0' + v%8)
		v /= 8
	}
	copy(field, s)
}

func buildHeader(name string, typeflag byte, size uint64) []byte {
	h := blankHeader()
	copy(h[nameOffset:nameOffset+nameSize], name)
	h[typeOffset] = typeflag
	putOctal(h[sizeOffset:sizeOffset+sizeSize], size)
	sum := ActualChecksum(h)
	chk := []byte{
		byte('0' + (sum>>18)&7), byte('0' + (sum>>15)&7), byte('0' + (sum>>12)&7),
		byte('0' + (sum>>9)&7), byte('0' + (sum>>6)&7), byte('0' + (sum>>3)&7),
		byte('0' + sum&7), 0,
	}
	copy(h[chksumOffset:chksumOffset+chksumSize], chk)
	return h
}

func TestParseBuildsFileTreeWithTranslatedSeparators(t *testing.T) {
	data := []byte("hello world")
	header := buildHeader("dir/file.txt", typeRegular, uint64(len(data)))

	var image []byte
	image = append(image, header...)
	dataBlock := make([]byte, blockSize)
	copy(dataBlock, data)
	image = append(image, dataBlock...)
	image = append(image, make([]byte, blockSize*2)...) // two terminating zero blocks

	root, err := Parse(image, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	folderOps, ok := root.Query(vfs.GuidFolder).(vfs.FolderOps)
	if !ok {
		t.Fatal("root should be a folder")
	}
	dir, ok := folderOps.Lookup("dir")
	if !ok {
		t.Fatal("expected a 'dir' folder entry")
	}
	dirOps, ok := dir.Query(vfs.GuidFolder).(vfs.FolderOps)
	if !ok {
		t.Fatal("dir should be a folder")
	}
	fnode, ok := dirOps.Lookup("file.txt")
	if !ok {
		t.Fatal("expected a 'file.txt' entry under dir")
	}
	fileOps, ok := fnode.Query(vfs.GuidFile).(vfs.FileOps)
	if !ok {
		t.Fatal("file.txt should support GuidFile")
	}
	buf := make([]byte, len(data))
	if n, rerr := fileOps.ReadAt(buf, 0); rerr != nil || n != len(data) || string(buf) != string(data) {
		t.Fatalf("ReadAt = (%d, %q, %v), want (%d, %q, nil)", n, buf[:n], rerr, len(data), data)
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	header := buildHeader("broken.txt", typeRegular, 0)
	header[0] = 'X' // corrupt the name without recomputing the checksum
	var image []byte
	image = append(image, header...)
	image = append(image, make([]byte, blockSize*2)...)

	if _, err := Parse(image, false); err == nil {
		t.Fatal("expected a checksum error")
	}
}

func TestParseIgnoreChecksumSkipsValidation(t *testing.T) {
	header := buildHeader("ok.txt", typeRegular, 0)
	header[0] = 'X'
	var image []byte
	image = append(image, header...)
	image = append(image, make([]byte, blockSize*2)...)

	if _, err := Parse(image, true); err != nil {
		t.Fatalf("Parse with ignoreChecksum: %v", err)
	}
}
