package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrmtools/hrmflash/pkg/image"
	"github.com/hrmtools/hrmflash/pkg/srec"
)

var infoStrict bool

var infoCmd = &cobra.Command{
	Use:   "info FILE.s19",
	Short: "Inspect an S19 image without touching a device",
	Long: `Parses an S19 firmware image and reports the stored and calculated ICP
flag values and how much of the flash window the image occupies. Useful to
check whether a file would have its ICP flag patched before programming.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []srec.Option
		if infoStrict {
			opts = append(opts, srec.Strict())
		}
		img, err := srec.Parse(args[0], opts...)
		if err != nil {
			return err
		}

		used := 0
		total := 0
		for addr := uint32(image.MemOffset); addr < image.MemOffset+image.MemSize; addr += image.ProgBlockSize {
			total++
			if !img.BlockEmpty(addr, image.ProgBlockSize) {
				used++
			}
		}

		stored := img.StoredFlag()
		calculated := img.CalculatedFlag()
		fmt.Printf("Flash window:   0x%04X-0x%04X (%d bytes)\n", image.MemOffset, image.MemOffset+image.MemSize-1, image.MemSize)
		fmt.Printf("Occupied:       %d of %d program blocks\n", used, total)
		fmt.Printf("ICP flag file:  0x%04X\n", stored)
		fmt.Printf("ICP flag calc:  0x%04X\n", calculated)
		if stored != calculated {
			fmt.Println("ICP flag mismatch; it would be patched before programming.")
		}
		return nil
	},
}
