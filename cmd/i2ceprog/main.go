package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/synthread/go-i2ceprog/bus"
	"github.com/synthread/go-i2ceprog/eeprom"
)

// Version is filled in at link time
var Version string

var ErrNoFile = errors.New("file name to write to EEPROM missing")

var rootCmd = &cobra.Command{
	Use:           "i2ceprog [flags] file",
	Short:         "Program and verify a 24C04 serial EEPROM over I2C.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().String("device", bus.DefaultDevice, "i2c-dev node of the bus")
	rootCmd.Flags().String("bridge", "", "serial port of a USB-I2C adapter, used instead of --device")
	rootCmd.Flags().Int("baud", bus.DefaultBaud, "baud rate of the USB-I2C adapter")
	rootCmd.Flags().Bool("sim", false, "program an in-memory simulated device")
	rootCmd.Flags().Duration("settle", 0, "pause after each page write (default 10x the write cycle)")
	rootCmd.Flags().Int("wp-gpio", 0, "sysfs GPIO number driving the WP pin")
	rootCmd.Flags().Bool("version", false, "report version of this executable")
	rootCmd.Flags().BoolP("verbose", "v", false, "increase logging verbosity")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		if msg := summary(err); msg != "" {
			fmt.Println("\n" + msg)
		}
		os.Exit(1)
	}
}

// summary is the closing line printed for a failed run, empty when the run
// never got past the write pass
func summary(err error) string {
	if errors.Is(err, eeprom.ErrVerify) {
		return "EEPROM program verify failed. Check connections."
	}
	return ""
}

func run(cmd *cobra.Command, args []string) error {
	if getFlag(cmd, "version") {
		fmt.Println("i2ceprog", version())
		return nil
	}
	if getFlag(cmd, "verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if len(args) < 1 {
		return ErrNoFile
	}

	infile, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "file open for %s failed", args[0])
	}
	defer infile.Close()

	t, err := openTransport(cmd)
	if err != nil {
		return errors.Wrap(err, "open for i2c bus failed")
	}

	settle, _ := cmd.Flags().GetDuration("settle")
	wp, _ := cmd.Flags().GetInt("wp-gpio")

	prog, err := eeprom.NewProgrammer(t, &eeprom.Config{
		Settle:           settle,
		WriteProtectGPIO: wp,
	})
	if err != nil {
		t.Close()
		return err
	}
	defer prog.Close()

	g := prog.Device().Geometry()
	logrus.Debugf("eeprom at 0x%02x: %d bytes, %d byte write pages", g.BaseAddr, g.Size, g.WritePage)

	res, err := prog.Program(infile)
	if err != nil {
		return err
	}

	logrus.Debugf("wrote %d chunks, verified %d", res.Written, res.Verified)
	fmt.Println("\nEEPROM programmed successfully.")

	return nil
}

// openTransport picks the bus transport selected by the flags
func openTransport(cmd *cobra.Command) (bus.Transport, error) {
	if getFlag(cmd, "sim") {
		return bus.NewSim(&bus.SimConfig{WriteCycle: eeprom.AT24C04.WriteCycle}), nil
	}

	if tty, _ := cmd.Flags().GetString("bridge"); tty != "" {
		baud, _ := cmd.Flags().GetInt("baud")
		return bus.OpenBridge(&bus.BridgeConfig{TTY: tty, Baud: baud})
	}

	dev, _ := cmd.Flags().GetString("device")
	return bus.OpenDevfs(dev)
}

// Get an expected flag, or exit if an error arises.
func getFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

func version() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "(unknown version)"
}
