package simplefs_test

import (
	"testing"

	"github.com/dargueta/blockfs"
	c "github.com/dargueta/blockfs/drivers/common"
	"github.com/dargueta/blockfs/drivers/simplefs"
	bfstest "github.com/dargueta/blockfs/testing"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// The scenarios all run on a 15-block device with 64-byte blocks. At that size
// the first record of a file holds 8 bytes of data, the first record of a
// directory holds one entry, and a directory continuation holds 13.
const scenarioBlocks = 15
const scenarioBlockSize = 64

// recordFrees captures the blocks freed by every device from now until the end
// of the test. The returned function gives them in the order they were freed.
func recordFrees(t *testing.T) func() []c.BlockID {
	previousLevel := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	hook := logtest.NewGlobal()
	t.Cleanup(func() {
		log.SetLevel(previousLevel)
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	})

	return func() []c.BlockID {
		var freed []c.BlockID
		for _, entry := range hook.AllEntries() {
			if entry.Message != "freed block" {
				continue
			}
			freed = append(freed, entry.Data["block"].(c.BlockID))
		}
		return freed
	}
}

func TestScenarios(t *testing.T) {
	t.Run("MountEmpty", func(t *testing.T) {
		g := NewWithT(t)
		device, _ := bfstest.CreateStreamDevice(t, scenarioBlocks, scenarioBlockSize)

		g.Expect(simplefs.Format(device)).To(Succeed())
		_, root, err := simplefs.Mount(device)
		g.Expect(err).NotTo(HaveOccurred())

		names, err := root.List()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(names).To(BeEmpty())
		g.Expect(device.FreeBlocks()).To(BeEquivalentTo(scenarioBlocks - 1))
	})

	t.Run("CreateThenOpen", func(t *testing.T) {
		g := NewWithT(t)
		_, root := mountNew(t, scenarioBlocks, scenarioBlockSize)

		_, err := root.CreateFile("a.txt")
		g.Expect(err).NotTo(HaveOccurred())

		file, err := root.OpenFile("a.txt")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(file.Position()).To(Equal(0))
		g.Expect(file.Size()).To(Equal(0))
		g.Expect(file.Name()).To(Equal("a.txt"))
	})

	t.Run("WriteSpillsAcrossRecords", func(t *testing.T) {
		g := NewWithT(t)
		_, root := mountNew(t, scenarioBlocks, scenarioBlockSize)

		file, err := root.CreateFile("inferno")
		g.Expect(err).NotTo(HaveOccurred())

		text := []byte("Nel mezzo del cammin..")
		g.Expect(text).To(HaveLen(22))
		n, err := file.Write(text)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(n).To(Equal(22))
		g.Expect(file.Blocks()).To(BeNumerically(">", 1))

		g.Expect(file.Seek(22)).To(Equal(22))
		_, err = file.Seek(23)
		g.Expect(err).To(MatchError(blockfs.ErrOutOfRange))
		g.Expect(file.Position()).To(Equal(22))

		g.Expect(file.Seek(0)).To(Equal(0))
		buffer := make([]byte, 64)
		n, err = file.Read(buffer)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(buffer[:n]).To(Equal(text))
	})

	t.Run("ChangeDirAndBack", func(t *testing.T) {
		g := NewWithT(t)
		_, root := mountNew(t, scenarioBlocks, scenarioBlockSize)

		g.Expect(root.MakeDir("pluto")).To(Succeed())
		pluto, err := root.ChangeDir("pluto")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(pluto.Name()).To(Equal("pluto"))

		back, err := pluto.ChangeDir("..")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(back.Name()).To(Equal(root.Name()))
		g.Expect(back.Block()).To(Equal(root.Block()))
	})

	t.Run("DirectoryGrows", func(t *testing.T) {
		g := NewWithT(t)
		fs, root := mountNew(t, scenarioBlocks, scenarioBlockSize)

		expected := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
		for _, name := range expected {
			_, err := root.CreateFile(name)
			g.Expect(err).NotTo(HaveOccurred())
		}
		g.Expect(root.MakeDir("pluto")).To(Succeed())
		expected = append(expected, "pluto")

		// Root, five entries, and one directory continuation.
		g.Expect(fs.Device().FreeBlocks()).To(BeEquivalentTo(scenarioBlocks - 7))

		names, err := root.List()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(names).To(Equal(expected))
		g.Expect(root.EntryCount()).To(BeEquivalentTo(5))

		entries, err := root.Entries()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(entries).To(HaveLen(5))
		g.Expect(entries[4].IsDirectory).To(BeTrue())
	})

	t.Run("RemoveDirectoryWithFiles", func(t *testing.T) {
		g := NewWithT(t)
		fs, root := mountNew(t, scenarioBlocks, scenarioBlockSize)
		device := fs.Device()
		freeBefore := device.FreeBlocks()

		g.Expect(root.MakeDir("pluto")).To(Succeed())
		pluto, err := root.ChangeDir("pluto")
		g.Expect(err).NotTo(HaveOccurred())

		var fileBlocks []c.BlockID
		for _, name := range []string{"x", "y"} {
			file, err := pluto.CreateFile(name)
			g.Expect(err).NotTo(HaveOccurred())
			_, err = file.Write([]byte("twenty bytes of data"))
			g.Expect(err).NotTo(HaveOccurred())
			fileBlocks = append(fileBlocks, file.Block())
		}
		g.Expect(device.FreeBlocks()).To(BeNumerically("<", freeBefore))

		freedBlocks := recordFrees(t)
		g.Expect(root.Remove("pluto")).To(Succeed())

		// Every file inside the directory goes before the directory itself.
		freed := freedBlocks()
		directoryIndex := indexOfBlock(freed, pluto.Block())
		g.Expect(directoryIndex).To(BeNumerically(">=", 0))
		for _, blockID := range fileBlocks {
			fileIndex := indexOfBlock(freed, blockID)
			g.Expect(fileIndex).To(BeNumerically(">=", 0))
			g.Expect(fileIndex).To(BeNumerically("<", directoryIndex))
		}

		g.Expect(device.FreeBlocks()).To(Equal(freeBefore))
		for _, blockID := range append(fileBlocks, pluto.Block()) {
			g.Expect(device.IsAllocated(blockID)).To(BeFalse())
		}

		names, err := root.List()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(names).To(BeEmpty())
		_, err = root.ChangeDir("pluto")
		g.Expect(err).To(MatchError(blockfs.ErrNotFound))
	})
}

func indexOfBlock(blocks []c.BlockID, target c.BlockID) int {
	for i, blockID := range blocks {
		if blockID == target {
			return i
		}
	}
	return -1
}
