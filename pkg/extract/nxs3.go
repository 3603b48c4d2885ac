package extract

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/absencelul/neox-tools/pkg/npk"
)

// nxs3Tool is the external decoder invoked for nxs3-wrapped blobs. The
// contract: two positional arguments (input path, output path), exit
// code zero, output file present.
const nxs3Tool = "de_nxs3"

func decodeNXS3(data []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "nxs3-")
	if err != nil {
		return nil, errors.Wrap(npk.ErrExternalTool, err.Error())
	}
	inPath := tmp.Name()
	outPath := inPath + ".out"
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errors.Wrap(npk.ErrExternalTool, err.Error())
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(npk.ErrExternalTool, err.Error())
	}

	if err := exec.Command(nxs3Tool, inPath, outPath).Run(); err != nil {
		return nil, errors.Wrapf(npk.ErrExternalTool, "%s: %v", nxs3Tool, err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrapf(npk.ErrExternalTool, "%s produced no output: %v", nxs3Tool, err)
	}
	return out, nil
}
